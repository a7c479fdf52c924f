package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cryphlabs/checkout-api/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}
}

func TestIdemPassthroughWithoutHeader(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments", nil))
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	require.Equal(t, 2, calls)
}

func TestIdemRejectsReplay(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodPost, "/payments", nil)
	first.Header.Set("Idempotency-Key", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	require.Equal(t, http.StatusOK, rr.Code)

	second := httptest.NewRequest(http.MethodPost, "/payments", nil)
	second.Header.Set("Idempotency-Key", "abc-123")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, second)
	require.Equal(t, http.StatusConflict, rr2.Code)
	require.Equal(t, 1, calls)
}

func TestDigits(t *testing.T) {
	require.Equal(t, "12345678900", common.Digits("123.456.789-00"))
	require.Equal(t, "11999998888", common.Digits("(11) 99999-8888"))
	require.Equal(t, "", common.Digits("abc"))
}
