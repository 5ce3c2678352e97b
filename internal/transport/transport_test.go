package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/forms-load-tests/internal/transport"
)

func newClient(t *testing.T, srv *httptest.Server, mutate ...func(*transport.Options)) *transport.Client {
	t.Helper()
	opts := transport.DefaultOptions(srv.URL)
	for _, m := range mutate {
		m(&opts)
	}
	c, err := transport.New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestStart_SendsNavigationHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/form/71", r.URL.Path)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	c := newClient(t, srv)
	body, res, err := c.NewSession().Start(context.Background(), "/form/71")
	require.NoError(t, err)

	assert.Equal(t, "<html></html>", string(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(len(body)), res.Bytes)
	assert.Greater(t, res.Duration, time.Duration(0))

	assert.Equal(t, transport.AcceptHeader, got.Get("Accept"))
	assert.Equal(t, "en-GB,en;q=0.5", got.Get("Accept-Language"))
	assert.Equal(t, "1", got.Get("Upgrade-Insecure-Requests"))
	assert.Equal(t, "Gatling load tests", got.Get("User-Agent"))
	assert.Equal(t, "document", got.Get("Sec-Fetch-Dest"))
	assert.Equal(t, "navigate", got.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "none", got.Get("Sec-Fetch-Site"))
	assert.Equal(t, "?1", got.Get("Sec-Fetch-User"))
	assert.Empty(t, got.Get("Origin"))
	assert.Contains(t, got.Get("Accept-Encoding"), "gzip")
}

func TestSubmit_SendsFormAndOrigin(t *testing.T) {
	var got http.Header
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv, func(o *transport.Options) { o.UserAgent = "custom-agent" })
	_, _, err := c.NewSession().Submit(context.Background(), "/form/71/question/1", url.Values{
		"authenticity_token": {"tok"},
		"question[text]":     {"Just some text"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", got.Get("Content-Type"))
	assert.Equal(t, c.Origin(), got.Get("Origin"))
	assert.Equal(t, "same-origin", got.Get("Sec-Fetch-Site"))
	assert.Equal(t, "custom-agent", got.Get("User-Agent"))
	assert.Equal(t, "tok", form.Get("authenticity_token"))
	assert.Equal(t, "Just some text", form.Get("question[text]"))
}

func TestSessionsHaveIsolatedCookieJars(t *testing.T) {
	var issued atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			_, _ = w.Write([]byte(c.Value))
			return
		}
		id := issued.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: string(rune('a' + id - 1)), Path: "/"})
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	c := newClient(t, srv)
	ctx := context.Background()
	first, second := c.NewSession(), c.NewSession()

	body, _, err := first.Start(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))
	body, _, err = second.Start(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "new", string(body))

	body, _, err = first.Start(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "a", string(body))
	body, _, err = second.Start(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "b", string(body))
}

func TestFollowsPostRedirectGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/answer", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next", http.StatusFound)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("next page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	body, res, err := newClient(t, srv).NewSession().Submit(context.Background(), "/answer", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "next page", string(body))
	assert.Equal(t, srv.URL+"/next", res.URL)
}

func TestErrorStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, res, err := newClient(t, srv).NewSession().Start(context.Background(), "/form/1")
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusUnprocessableEntity, terr.StatusCode)
	assert.Equal(t, http.MethodGet, terr.Method)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Contains(t, err.Error(), "422")
	assert.False(t, terr.Cancelled())
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, _, err := newClient(t, srv).NewSession().Start(ctx, "/slow")
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.True(t, terr.Cancelled())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newClient(t, srv, func(o *transport.Options) { o.Timeout = 50 * time.Millisecond })
	_, _, err := c.NewSession().Start(context.Background(), "/slow")
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.False(t, terr.Cancelled())
}

func TestMaxRPSLimitsAggregateRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newClient(t, srv, func(o *transport.Options) { o.MaxRPS = 20 })
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 30; i++ {
		_, _, err := c.NewSession().Start(ctx, "/")
		require.NoError(t, err)
	}
	// 20 burst tokens, then 10 more at 20/s.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	_, err := transport.New(transport.Options{BaseURL: "/just/a/path"})
	require.Error(t, err)
}
