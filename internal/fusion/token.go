package fusion

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTokenBuffer = 60 * time.Second
	// used when the token endpoint omits expires_in
	fallbackTokenTTL = time.Hour
)

// TokenFetcher performs one client-credentials exchange.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenManager caches one upstream access token for every caller and
// refreshes it ahead of expiry. Concurrent refreshes share a single exchange.
type TokenManager struct {
	fetcher    TokenFetcher
	buffer     time.Duration
	now        func() time.Time
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time

	flight singleflight.Group
}

type TokenOption func(*TokenManager)

func WithTokenBuffer(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.buffer = d }
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) { m.httpClient = c }
}

// NewClientCredentialsFetcher sends the client id/secret as a basic-auth
// header and the grant as a form body.
func NewClientCredentialsFetcher(tokenURL, clientID, clientSecret string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

func NewTokenManager(fetcher TokenFetcher, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		fetcher: fetcher,
		buffer:  defaultTokenBuffer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessToken returns the cached token, refreshing it when it is within the
// safety buffer of expiry.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	return m.refresh(ctx)
}

// ForceRefresh drops the cached token and fetches a new one. Used after the
// upstream rejects a token it should have accepted.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.token, m.expiry = "", time.Time{}
	m.mu.Unlock()
	return m.refresh(ctx)
}

// Expiry is the real upstream expiry of the cached token, zero when empty.
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || !m.now().Before(m.expiry.Add(-m.buffer)) {
		return "", false
	}
	return m.token, true
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	ch := m.flight.DoChan("token", func() (interface{}, error) {
		// A caller that missed the cache just before the previous flight
		// finished must not start a second exchange.
		if tok, ok := m.cached(); ok {
			return tok, nil
		}

		// The exchange outlives any single waiter's cancellation.
		fetchCtx := context.WithoutCancel(ctx)
		if m.httpClient != nil {
			fetchCtx = context.WithValue(fetchCtx, oauth2.HTTPClient, m.httpClient)
		}
		t, err := m.fetcher.Token(fetchCtx)
		if err != nil {
			m.mu.Lock()
			m.token, m.expiry = "", time.Time{}
			m.mu.Unlock()
			return nil, tokenError(err)
		}
		if t.AccessToken == "" {
			return nil, &Error{Code: CodeInvalidCredentials, Endpoint: "token", Message: "token endpoint returned an empty token"}
		}

		expiry := t.Expiry
		if expiry.IsZero() {
			expiry = m.now().Add(fallbackTokenTTL)
		}

		m.mu.Lock()
		m.token, m.expiry = t.AccessToken, expiry
		m.mu.Unlock()
		return t.AccessToken, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		tok, ok := res.Val.(string)
		if !ok {
			return "", errors.New("fusion: unexpected token type")
		}
		return tok, nil
	case <-ctx.Done():
		return "", &Error{Code: CodeTimeout, Endpoint: "token", Message: "waiting for token refresh", Cause: ctx.Err()}
	}
}

func tokenError(err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		fe := mapStatusError("token", re.Response.StatusCode, re.Body)
		if re.Response.StatusCode == http.StatusBadRequest {
			fe.Code = CodeInvalidCredentials
		}
		fe.Cause = err
		return fe
	}
	return mapTransportError("token", err)
}
