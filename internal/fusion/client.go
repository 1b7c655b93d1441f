package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 8 << 20

// Tokens supplies access tokens to the gateway.
type Tokens interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

type ClientConfig struct {
	BaseURL           string
	SID               string
	Timeout           time.Duration
	RequestsPerSecond float64
	Backoff           Backoff
}

// Client is the request layer over the upstream reservation API. Every
// method attaches the cached token and the fixed sid, retries transient
// failures, and returns *Error for anything that went wrong.
type Client struct {
	baseURL string
	sid     string
	http    *http.Client
	tokens  Tokens
	limiter *rate.Limiter
	backoff Backoff
	logger  *logrus.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg ClientConfig, tokens Tokens, logger *logrus.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sid:     cfg.SID,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		backoff: cfg.Backoff,
		logger:  logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Search(ctx context.Context, sessionKey string, params SearchParams) (*SearchResponse, error) {
	body, err := c.get(ctx, endpointSearch, sessionKey, params.values())
	if err != nil {
		return nil, err
	}
	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, malformed(endpointSearch, body, err)
	}
	return &out, nil
}

func (c *Client) RateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]RateCode, error) {
	params := url.Values{"cruiseid": {cruiseID}, "resultno": {resultNo}}
	body, err := c.get(ctx, endpointRateCodes, sessionKey, params)
	if err != nil {
		return nil, err
	}
	var out []RateCode
	if err := decodeResults(endpointRateCodes, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]CabinGrade, error) {
	params := url.Values{"cruiseid": {cruiseID}, "resultno": {resultNo}, "farecode": {fareCode}}
	body, err := c.get(ctx, endpointCabinGrades, sessionKey, params)
	if err != nil {
		return nil, err
	}
	var out []CabinGrade
	if err := decodeResults(endpointCabinGrades, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Cabins(ctx context.Context, req CabinsRequest) (*CabinsResponse, error) {
	params := url.Values{
		"cruiseid": {req.CruiseID},
		"resultno": {req.ResultNo},
		"farecode": {req.FareCode},
		"gradeno":  {req.GradeNo},
	}
	body, err := c.get(ctx, endpointCabins, req.SessionKey, params)
	if err != nil {
		return nil, err
	}
	var out CabinsResponse
	if err := decodeResults(endpointCabins, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BasketAdd places a hold on one cabin.
func (c *Client) BasketAdd(ctx context.Context, req BasketAddRequest) (*BasketAddResponse, error) {
	params := url.Values{
		"cruiseid": {req.CruiseID},
		"resultno": {req.ResultNo},
		"farecode": {req.FareCode},
		"gradeno":  {req.GradeNo},
		"cabinno":  {req.CabinNo},
	}
	body, err := c.get(ctx, endpointBasketAdd, req.SessionKey, params)
	if err != nil {
		return nil, err
	}
	var out BasketAddResponse
	if err := decodeResults(endpointBasketAdd, body, &out); err != nil {
		return nil, err
	}
	if out.ItemKey == "" {
		return nil, &Error{Code: CodeCabinNotAvailable, Endpoint: endpointBasketAdd, Message: "upstream returned no basket item", Payload: body}
	}
	return &out, nil
}

func (c *Client) Basket(ctx context.Context, sessionKey string) (*Basket, error) {
	body, err := c.get(ctx, endpointBasket, sessionKey, url.Values{})
	if err != nil {
		return nil, err
	}
	var out Basket
	if err := decodeResults(endpointBasket, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BasketRemove(ctx context.Context, sessionKey, itemKey string) error {
	_, err := c.get(ctx, endpointBasketRemove, sessionKey, url.Values{"itemkey": {itemKey}})
	return err
}

// Book submits the reservation. Only RATE_LIMIT is replayed: a timed out or
// failed POST may already have been applied upstream.
func (c *Client) Book(ctx context.Context, req BookRequest) (*BookResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Code: CodeValidation, Endpoint: endpointBook, Message: "encode booking request", Cause: err}
	}

	retryRateLimit := func(err error) bool { return HasCode(err, CodeRateLimit) }
	body, err := c.call(ctx, http.MethodPost, endpointBook, req.SessionKey, url.Values{}, payload, retryRateLimit)
	if err != nil {
		return nil, err
	}

	var out BookResponse
	if err := decodeResults(endpointBook, body, &out); err != nil {
		return nil, err
	}
	out.Raw = json.RawMessage(body)
	if out.BookingReference == "" {
		return nil, &Error{Code: CodeBookingFailed, Endpoint: endpointBook, Message: "upstream returned no booking reference", Payload: body}
	}
	return &out, nil
}

func (c *Client) PastPassenger(ctx context.Context, req PastPassengerRequest) (*PastPassengerResponse, error) {
	params := url.Values{"membershipno": {req.MembershipNo}, "lastname": {req.LastName}}
	setInt(params, "lineid", req.LineID)
	setString(params, "dob", req.DateOfBirth)
	body, err := c.get(ctx, endpointPastPassenger, req.SessionKey, params)
	if err != nil {
		return nil, err
	}
	var out PastPassengerResponse
	if err := decodeResults(endpointPastPassenger, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, endpoint, sessionKey string, params url.Values) ([]byte, error) {
	return c.call(ctx, http.MethodGet, endpoint, sessionKey, params, nil, IsRetryable)
}

func (c *Client) call(ctx context.Context, method, endpoint, sessionKey string, params url.Values, payload []byte, shouldRetry func(error) bool) ([]byte, error) {
	var body []byte
	err := c.backoff.Do(ctx, shouldRetry, func(attempt int) error {
		var err error
		body, err = c.attempt(ctx, method, endpoint, sessionKey, params, payload)
		if err != nil {
			fields := logrus.Fields{"endpoint": endpoint, "attempt": attempt}
			if fe, ok := AsError(err); ok {
				fields["code"] = fe.Code
				fields["status"] = fe.StatusCode
			}
			c.logger.WithFields(fields).WithError(err).Warn("fusion call failed")
		}
		return err
	})
	return body, err
}

// attempt sends once; a rejected token is refreshed and the call replayed a
// single time before the rejection is surfaced.
func (c *Client) attempt(ctx context.Context, method, endpoint, sessionKey string, params url.Values, payload []byte) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.send(ctx, method, endpoint, sessionKey, params, payload, token)
	if !HasCode(err, CodeInvalidCredentials) {
		return body, err
	}

	token, rerr := c.tokens.ForceRefresh(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return c.send(ctx, method, endpoint, sessionKey, params, payload, token)
}

func (c *Client) send(ctx context.Context, method, endpoint, sessionKey string, params url.Values, payload []byte, token string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, mapTransportError(endpoint, err)
		}
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("sid", c.sid)
	if sessionKey != "" {
		q.Set("sessionkey", sessionKey)
	}

	var reqBody io.Reader
	if method == http.MethodGet {
		q.Set("requestid", token)
	} else {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint+".pl?"+q.Encode(), reqBody)
	if err != nil {
		return nil, &Error{Code: CodeValidation, Endpoint: endpoint, Message: "build request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("requestid", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mapTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, mapTransportError(endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(endpoint, resp.StatusCode, body)
	}

	// A 200 may still carry an error object in place of results.
	var env struct {
		Error *payloadError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && (env.Error.Code != "" || env.Error.Message != "") {
		return nil, mapPayloadError(endpoint, env.Error, body)
	}
	return body, nil
}

func decodeResults(endpoint string, body []byte, out interface{}) error {
	var env struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return malformed(endpoint, body, err)
	}
	if len(env.Results) == 0 || string(env.Results) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return malformed(endpoint, body, err)
	}
	return nil
}

func malformed(endpoint string, body []byte, err error) *Error {
	fe := &Error{Code: CodeUnknown, Endpoint: endpoint, Message: "malformed upstream response", Cause: err}
	if json.Valid(body) {
		fe.Payload = json.RawMessage(body)
	}
	if endpoint == endpointBook {
		fe.Code = CodeBookingFailed
	}
	return fe
}
