package fusion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu        sync.Mutex
	current   string
	refreshed int
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) ForceRefresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	f.current = "fresh-token"
	return f.current, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeTokens) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := &fakeTokens{current: "cached-token"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := NewClient(ClientConfig{BaseURL: srv.URL, SID: "site-42", Backoff: fastBackoff(3)}, tokens, logger)
	return c, tokens
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SearchSendsSidTokenAndSessionKey(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/cruiseresults.pl", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "site-42", q.Get("sid"))
		assert.Equal(t, "cached-token", q.Get("requestid"))
		assert.Equal(t, "sk-1", q.Get("sessionkey"))
		assert.Equal(t, "2", q.Get("adults"))
		assert.Equal(t, "1,7", q.Get("lineid"))
		writeJSON(w, map[string]interface{}{
			"results": []map[string]interface{}{{"cruiseid": "C1", "resultno": "302_0.1", "name": "Fjords", "nights": 7}},
			"meta":    map[string]interface{}{"totalresults": 1, "page": 1, "pages": 1},
		})
	})

	res, err := c.Search(context.Background(), "sk-1", SearchParams{Adults: 2, LineIDs: []int{1, 7}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "C1", res.Results[0].CruiseID)
	assert.Equal(t, "302_0.1", res.Results[0].ResultNo)
	assert.Equal(t, 1, res.Meta.TotalResults)
}

func TestClient_ErrorPayloadInOKResponse(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]interface{}{"error": map[string]string{"code": "S01", "message": "Invalid session key"}})
	})

	_, err := c.RateCodes(context.Background(), "dead-key", "C1", "302_0.1")
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidSession, fe.Code)
	assert.Equal(t, http.StatusOK, fe.StatusCode)
	assert.NotEmpty(t, fe.Payload)
	assert.Equal(t, int32(1), calls.Load(), "INVALID_SESSION must not be retried")
}

func TestClient_RetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]interface{}{"results": []map[string]interface{}{{"gradeno": "G1", "code": "OV", "available": true}}})
	})

	grades, err := c.CabinGrades(context.Background(), "sk", "C1", "r1", "BESTFARE")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, grades, 1)
	assert.Equal(t, "G1", grades[0].GradeNo)
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Basket(context.Background(), "sk")
	assert.True(t, HasCode(err, CodeRateLimit))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_UnauthorizedForcesRefreshOnce(t *testing.T) {
	var calls atomic.Int32
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("requestid") != "fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{"results": map[string]interface{}{"items": []interface{}{}, "totalprice": 0}})
	})

	_, err := c.Basket(context.Background(), "sk")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.refreshed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_BasketAddParsesHold(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/basketadd.pl", r.URL.Path)
		assert.Equal(t, "A1021", r.URL.Query().Get("cabinno"))
		writeJSON(w, map[string]interface{}{"results": map[string]interface{}{
			"itemkey":    "item-9",
			"holdexpiry": "2026-05-01T10:30:00Z",
			"price":      2150.5,
		}})
	})

	res, err := c.BasketAdd(context.Background(), BasketAddRequest{SessionKey: "sk", CruiseID: "C1", ResultNo: "r1", FareCode: "F", GradeNo: "G1", CabinNo: "A1021"})
	require.NoError(t, err)
	assert.Equal(t, "item-9", res.ItemKey)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC), res.HoldExpiresAt(now, 15*time.Minute))
}

func TestBasketAddResponse_HoldExpiresAtFallbacks(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(20*time.Minute), BasketAddResponse{HoldMinutes: 20}.HoldExpiresAt(now, 15*time.Minute))
	assert.Equal(t, now.Add(15*time.Minute), BasketAddResponse{HoldExpiry: "soon"}.HoldExpiresAt(now, 15*time.Minute))
	assert.Equal(t, time.Date(2026, 5, 1, 10, 12, 0, 0, time.UTC),
		BasketAddResponse{HoldExpiry: "2026-05-01 10:12:00"}.HoldExpiresAt(now, 15*time.Minute))
}

func TestClient_BookPostsTokenInHeader(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/book.pl", r.URL.Path)
		assert.Equal(t, "cached-token", r.Header.Get("requestid"))
		assert.Empty(t, r.URL.Query().Get("requestid"))
		assert.Equal(t, "sk", r.URL.Query().Get("sessionkey"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "item-9", body["itemkey"])
		writeJSON(w, map[string]interface{}{"results": map[string]interface{}{"bookingreference": "BK-777", "status": "confirmed"}})
	})

	res, err := c.Book(context.Background(), BookRequest{
		SessionKey: "sk",
		ItemKey:    "item-9",
		Passengers: []Passenger{{FirstName: "Ada", LastName: "Lovelace"}},
		Contact:    ContactInfo{Email: "ada@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "BK-777", res.BookingReference)
	assert.Contains(t, string(res.Raw), "BK-777")
}

func TestClient_BookDoesNotReplayServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Book(context.Background(), BookRequest{SessionKey: "sk", ItemKey: "i"})
	assert.True(t, HasCode(err, CodeServiceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BookFailureCarriesPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"error": map[string]string{"code": "B1", "message": "Payment declined"}})
	})

	_, err := c.Book(context.Background(), BookRequest{SessionKey: "sk", ItemKey: "i"})
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBookingFailed, fe.Code)
	assert.Contains(t, string(fe.Payload), "Payment declined")
}

func TestClient_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: url, SID: "s", Backoff: fastBackoff(2)}, &fakeTokens{current: "t"}, nil)
	_, err := c.Basket(context.Background(), "sk")
	assert.True(t, HasCode(err, CodeServiceUnavailable))
	assert.True(t, IsRetryable(err))
}
