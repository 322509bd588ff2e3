package bc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, calls *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
		require.Equal(t, "client-1", r.PostFormValue("client_id"))
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d}`, n, expiresIn)
	}))
}

func TestTokenCachedUntilMargin(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, &calls, 3600)
	defer srv.Close()

	provider := NewTokenProvider(srv.URL, "client-1", "secret", srv.Client())
	now := time.Now()
	provider.now = func() time.Time { return now }

	ctx := context.Background()
	first, err := provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "token-1", first)

	again, err := provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.EqualValues(t, 1, calls.Load())

	// Within the refresh margin the cached token is considered stale.
	now = now.Add(3600*time.Second - 30*time.Second)
	refreshed, err := provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "token-2", refreshed)
	require.EqualValues(t, 2, calls.Load())
}

func TestTokenInvalidateForcesRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, &calls, 3600)
	defer srv.Close()

	provider := NewTokenProvider(srv.URL, "client-1", "secret", srv.Client())
	ctx := context.Background()

	_, err := provider.Token(ctx)
	require.NoError(t, err)
	provider.Invalidate()
	token, err := provider.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "token-2", token)
}

func TestTokenRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, &calls, 3600)
	defer srv.Close()

	provider := NewTokenProvider(srv.URL, "client-1", "secret", srv.Client())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := provider.Token(ctx)
			require.NoError(t, err)
			require.Equal(t, "token-1", token)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, calls.Load())
}

func TestTokenEndpointFailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	provider := NewTokenProvider(srv.URL, "client-1", "secret", srv.Client())
	_, err := provider.Token(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}
