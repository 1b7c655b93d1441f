package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int32
	delay  time.Duration
	status atomic.Int32
}

func newTokenServer(t *testing.T, delay time.Duration) *tokenServer {
	ts := &tokenServer{delay: delay}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok, "client credentials must be sent as basic auth")
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		time.Sleep(ts.delay)
		if status := int(ts.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) manager(opts ...TokenOption) *TokenManager {
	return NewTokenManager(NewClientCredentialsFetcher(ts.URL, "client-id", "client-secret"), opts...)
}

func TestTokenManager_ConcurrentCallersShareOneExchange(t *testing.T) {
	ts := newTokenServer(t, 50*time.Millisecond)
	m := ts.manager()

	const callers = 32
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ts.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", tokens[i])
	}
}

func TestTokenManager_CachesUntilBuffer(t *testing.T) {
	ts := newTokenServer(t, 0)
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	m := ts.manager(WithTokenClock(clock), WithTokenBuffer(time.Minute))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	// Still well inside the window.
	mu.Lock()
	now = now.Add(30 * time.Minute)
	mu.Unlock()
	tok, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), ts.calls.Load())

	// Within the 60s buffer of the real expiry.
	mu.Lock()
	now = m.Expiry().Add(-30 * time.Second)
	mu.Unlock()
	tok, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestTokenManager_FailureClearsAndNextCallRetries(t *testing.T) {
	ts := newTokenServer(t, 0)
	ts.status.Store(http.StatusInternalServerError)
	m := ts.manager()

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeServiceUnavailable, fe.Code)
	assert.True(t, m.Expiry().IsZero())

	ts.status.Store(http.StatusOK)
	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestTokenManager_RejectedCredentials(t *testing.T) {
	ts := newTokenServer(t, 0)
	ts.status.Store(http.StatusUnauthorized)
	m := ts.manager()

	_, err := m.AccessToken(context.Background())
	assert.True(t, HasCode(err, CodeInvalidCredentials))
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	ts := newTokenServer(t, 0)
	m := ts.manager()

	first, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	second, err := m.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), ts.calls.Load())

	cached, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, cached)
}

type staticFetcher struct {
	tok *oauth2.Token
	err error
}

func (f staticFetcher) Token(context.Context) (*oauth2.Token, error) { return f.tok, f.err }

func TestTokenManager_MissingExpiryFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewTokenManager(staticFetcher{tok: &oauth2.Token{AccessToken: "abc"}}, WithTokenClock(func() time.Time { return now }))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, now.Add(fallbackTokenTTL), m.Expiry())
}

func TestTokenManager_EmptyTokenIsAnError(t *testing.T) {
	m := NewTokenManager(staticFetcher{tok: &oauth2.Token{}})
	_, err := m.AccessToken(context.Background())
	assert.True(t, HasCode(err, CodeInvalidCredentials))
}

func TestTokenManager_TransportFailure(t *testing.T) {
	m := NewTokenManager(staticFetcher{err: errors.New("connection reset")})
	_, err := m.AccessToken(context.Background())
	assert.True(t, HasCode(err, CodeServiceUnavailable))
}
