package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skairunner/commentater/internal/commentater"
)

const testAgent = "commentater (+https://github.com/skairunner/commentater)"

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var gotAgent, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		gotTrace = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte("<html><h1>Chewpaper</h1></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: testAgent, Timeout: time.Second, Headers: http.Header{"X-Trace": {"yes"}}})
	body, err := f.Fetch(context.Background(), srv.URL+"/w/solaris/a/chewpaper")
	require.NoError(t, err)
	assert.Equal(t, "<html><h1>Chewpaper</h1></html>", string(body))
	assert.Equal(t, testAgent, gotAgent)
	assert.Equal(t, "yes", gotTrace)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})
	for i := 0; i < 2; i++ {
		body, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
	}
}

func TestFetchNon2xxIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), srv.URL)
	var statusErr *commentater.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestFetchConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), addr)
	require.Error(t, err)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := f.buildCollector(&page{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt || !collector.AllowURLRevisit || !collector.ParseHTTPErrorResponse {
		t.Fatalf("unexpected collector settings: %+v", collector)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("body"),
		Headers:    &http.Header{},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://www.worldanvil.com/w/solaris"),
		},
	})
	if result.status != http.StatusNotFound || string(result.body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
