package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims carries the caller identity issued by the CRM login service.
type Claims struct {
	AgencyID int64  `json:"agency_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver turns an HS256 bearer token into a domain.Caller.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Resolve accepts either a raw token or an "Authorization: Bearer" value.
func (r *JWTResolver) Resolve(header string) (domain.Caller, error) {
	raw := strings.TrimSpace(header)
	if raw == "Bearer" {
		return domain.Caller{}, ErrMissingToken
	}
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		raw = strings.TrimSpace(after)
	}
	if raw == "" {
		return domain.Caller{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...); err != nil {
		return domain.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Caller{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleAgent, domain.RoleClient, domain.RoleAdmin:
	default:
		return domain.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return domain.Caller{UserID: userID, AgencyID: claims.AgencyID, Role: role}, nil
}

// Sign issues a token for caller. Used by the ops CLI and tests.
func (r *JWTResolver) Sign(caller domain.Caller, ttl time.Duration) (string, error) {
	now := r.now()
	claims := Claims{
		AgencyID: caller.AgencyID,
		Role:     string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(caller.UserID, 10),
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
