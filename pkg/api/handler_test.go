package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-mam/pkg/config"
	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/policy"
)

const apiDoc = `
version: "1"
name: api-test
managedAccounts: [user@contoso.com]
save:
  default: allow
  locations:
    dropbox: block
    sharepoint: managed_only
open:
  default: block
  locations:
    camera: allow
urls:
  default: allow
  rules:
    - id: block-social
      pattern: "*.social.example"
      action: block
universalLinks:
  default: block
documentPicker:
  modes:
    move: block
`

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveQuery(operation, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[operation]++
}

func newTestServer(t *testing.T, observer policy.QueryObserver) *httptest.Server {
	t.Helper()
	doc, err := config.ParseDocument([]byte(apiDoc))
	require.NoError(t, err)
	snap, err := doc.ToDomain(context.Background(), config.BuildOptions{Generation: 7, Source: "test"})
	require.NoError(t, err)

	var opts []policy.Option
	if observer != nil {
		opts = append(opts, policy.WithObserver(observer))
	}
	provider := config.NewStaticProvider(snap)
	srv := httptest.NewServer(NewHandler(HandlerConfig{
		Facade: policy.New(provider, opts...),
		Source: provider,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestSaveEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name    string
		query   string
		allowed bool
		tier    string
		loc     string
	}{
		{"blocked location", "location=dropbox", false, domain.TierLocation, "dropbox"},
		{"numeric code", "location=8", false, domain.TierLocation, "dropbox"},
		{"unknown code is other", "location=3", true, domain.TierDefault, "other"},
		{"managed account", "location=sharepoint&account=User@Contoso.com", true, domain.TierLocation, "sharepoint"},
		{"unmanaged account", "location=sharepoint&account=guest@example.com", false, domain.TierLocation, "sharepoint"},
		{"no account", "location=sharepoint", false, domain.TierLocation, "sharepoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp LocationResponse
			status := getJSON(t, srv, "/v1/save?"+tt.query, &resp)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.allowed, resp.Allowed)
			assert.Equal(t, tt.tier, resp.Tier)
			assert.Equal(t, tt.loc, resp.Location)
			assert.Equal(t, int64(1), resp.Generation)
		})
	}
}

func TestOpenEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	var resp LocationResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/open?location=camera", &resp))
	assert.True(t, resp.Allowed)

	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/open?location=sharepoint&account=user@contoso.com", &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, "user@contoso.com", resp.Account)
	assert.Equal(t, domain.TierDefault, resp.Tier)
}

func TestLocationValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/v1/save", "/v1/save?location=ftp", "/v1/open?location=dropbox"} {
		var errResp domain.ErrorResponse
		status := getJSON(t, srv, path, &errResp)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Equal(t, CodeBadRequest, errResp.Code, path)
		assert.NotEmpty(t, errResp.Message, path)
	}
}

func TestURLEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	var resp URLResponse
	q := url.Values{"url": {"https://m.social.example/feed"}}.Encode()
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/url?"+q, &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, "block-social", resp.Source)
	assert.Equal(t, "url", resp.Kind)

	q = url.Values{"url": {"https://portal.contoso.com/"}}.Encode()
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/url?"+q, &resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, "default", resp.Source)

	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/universal-link?"+q, &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, "universal_link", resp.Kind)

	var errResp domain.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/v1/url", &errResp))
	q = url.Values{"url": {"http://[::1"}}.Encode()
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/v1/url?"+q, &errResp))
}

func TestPickerEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	var resp PickerResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/picker?mode=move", &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/picker?mode=import", &resp))
	assert.True(t, resp.Allowed)

	var errResp domain.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/v1/picker?mode=print", &errResp))
}

func TestPolicyEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	var report policy.Report
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/policy?account=user@contoso.com", &report))
	assert.Equal(t, int64(1), report.Generation)
	assert.Equal(t, "user@contoso.com", report.Account)
	assert.False(t, report.SaveTo["dropbox"])
	assert.True(t, report.SaveTo["sharepoint"])
	assert.True(t, report.OpenFrom["camera"])
	assert.False(t, report.DocumentPicker["move"])
	assert.Equal(t, "allow", report.NotificationPolicy)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post, err := http.Post(srv.URL+"/v1/save?location=box", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestHealthNotReady(t *testing.T) {
	provider := config.NewStaticProvider(nil)
	srv := httptest.NewServer(NewHandler(HandlerConfig{
		Facade: policy.New(provider),
		Source: provider,
	}))
	defer srv.Close()

	var errResp domain.ErrorResponse
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv, "/healthz", &errResp))
	assert.Equal(t, CodeNotReady, errResp.Code)

	// queries still answer from the unmanaged default
	var resp LocationResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/v1/save?location=dropbox", &resp))
	assert.True(t, resp.Allowed)
}

func TestQueriesAreObserved(t *testing.T) {
	obs := &countingObserver{}
	srv := newTestServer(t, obs)

	var loc LocationResponse
	getJSON(t, srv, "/v1/save?location=box", &loc)
	getJSON(t, srv, "/v1/open?location=camera", &loc)
	var u URLResponse
	getJSON(t, srv, "/v1/url?url=https%3A%2F%2Fexample.com", &u)
	getJSON(t, srv, "/v1/universal-link?url=https%3A%2F%2Fexample.com", &u)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.counts[policy.OpSaveTo])
	assert.Equal(t, 1, obs.counts[policy.OpOpenFrom])
	assert.Equal(t, 1, obs.counts[policy.OpURL])
	assert.Equal(t, 1, obs.counts[policy.OpUniversalLink])
}

func TestNewHandlerRequiresFacade(t *testing.T) {
	assert.Panics(t, func() { NewHandler(HandlerConfig{}) })
}
