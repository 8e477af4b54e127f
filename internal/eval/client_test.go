package eval

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
)

func sandbox(t *testing.T, calls *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/eval" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if req.Input == "boom" {
			http.Error(w, "sandbox crashed", http.StatusInternalServerError)
			return
		}

		time.Sleep(delay)
		json.NewEncoder(w).Encode(response{Stdout: "ran: " + req.Input, ReturnCode: 0})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluate(t *testing.T) {
	var calls atomic.Int32
	srv := sandbox(t, &calls, 0)

	c := New(Config{URL: srv.URL + "/", Timeout: time.Second})
	defer c.Close()

	out, err := c.Evaluate(context.Background(), "print(1)")
	require.NoError(t, err)
	assert.Equal(t, "ran: print(1)", out)

	_, err = c.Evaluate(context.Background(), "print(1)")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "no cache configured")
}

func TestEvaluateCachesResults(t *testing.T) {
	var calls atomic.Int32
	srv := sandbox(t, &calls, 0)

	c := New(Config{URL: srv.URL, Timeout: time.Second, CacheTTL: time.Minute})
	defer c.Close()

	for i := 0; i < 3; i++ {
		out, err := c.Evaluate(context.Background(), "x = 1")
		require.NoError(t, err)
		assert.Equal(t, "ran: x = 1", out)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.Evaluate(context.Background(), "x = 2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvaluateSharesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	srv := sandbox(t, &calls, 100*time.Millisecond)

	c := New(Config{URL: srv.URL, Timeout: time.Second})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Evaluate(context.Background(), "slow()")
			assert.NoError(t, err)
			assert.Equal(t, "ran: slow()", out)
		}()
	}
	wg.Wait()

	assert.Less(t, calls.Load(), int32(5))
}

func TestEvaluateErrors(t *testing.T) {
	var calls atomic.Int32
	srv := sandbox(t, &calls, 0)

	t.Run("bad status", func(t *testing.T) {
		c := New(Config{URL: srv.URL, Timeout: time.Second, CacheTTL: time.Minute})
		defer c.Close()

		_, err := c.Evaluate(context.Background(), "boom")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSandbox))
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("unreachable", func(t *testing.T) {
		c := New(Config{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		defer c.Close()

		_, err := c.Evaluate(context.Background(), "print(1)")
		assert.True(t, errors.Is(err, ErrSandbox))
	})

	t.Run("timeout", func(t *testing.T) {
		slow := sandbox(t, &calls, 500*time.Millisecond)
		c := New(Config{URL: slow.URL, Timeout: 50 * time.Millisecond})
		defer c.Close()

		_, err := c.Evaluate(context.Background(), "sleep()")
		assert.True(t, errors.Is(err, ErrSandbox))
	})
}
