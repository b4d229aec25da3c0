package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"proxypool/internal/api/dto"
	"proxypool/internal/config"
	"proxypool/internal/domain"
	"proxypool/internal/events"
	"proxypool/internal/metrics"
	"proxypool/internal/pool"
	"proxypool/internal/quarantine"
	"proxypool/internal/registry"
	"proxypool/internal/selection"
)

type okProber struct{}

func (okProber) Probe(_ context.Context, proxy *domain.Proxy) domain.HealthCheckResult {
	return domain.HealthCheckResult{ProxyID: proxy.ID, Success: true}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	clk := clock.NewMock()
	reg := registry.New(nil)
	tracker := metrics.NewTracker(clk)
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)

	manager := quarantine.NewManager(reg, bus, clk)
	tracker.SetUpdateHook(manager.HandleResult)

	p := pool.New(reg, tracker, manager, selection.NewEngine(), nil, bus, okProber{}, clk)
	server := httptest.NewServer(NewServer(p).Routes())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func addTestProxy(t *testing.T, baseURL, host string) string {
	t.Helper()

	resp := postJSON(t, baseURL+"/proxies", dto.AddProxyRequest{
		Host:     host,
		Port:     8080,
		Protocol: "http",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add proxy status = %d, want 201", resp.StatusCode)
	}
	return decodeBody[map[string]string](t, resp)["id"]
}

func TestAcquireOnEmptyPoolIsRetryable(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body := decodeBody[map[string]string](t, resp); body["error"] == "" {
		t.Fatal("503 carried no error message")
	}
}

func TestAcquireReportRoundTrip(t *testing.T) {
	server := newTestServer(t)
	proxyID := addTestProxy(t, server.URL, "10.0.0.1")

	resp := postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{Strategy: "round_robin"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d, want 200", resp.StatusCode)
	}
	lease := decodeBody[dto.LeaseInfo](t, resp)
	if lease.LeaseId == "" || lease.Proxy.Id != proxyID {
		t.Fatalf("lease = %+v, want proxy %s", lease, proxyID)
	}
	if lease.Proxy.Host != "10.0.0.1" || lease.Proxy.Port != 8080 {
		t.Fatalf("proxy endpoint = %s:%d, want 10.0.0.1:8080", lease.Proxy.Host, lease.Proxy.Port)
	}
	if !lease.ExpiresAt.After(lease.IssuedAt) {
		t.Fatal("lease expires before it was issued")
	}

	report := dto.ReportRequest{LeaseId: lease.LeaseId, Success: true, ResponseTimeMs: 120}
	if resp := postJSON(t, server.URL+"/pool/report", report); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("report status = %d, want 204", resp.StatusCode)
	}

	// The lease is settled; a duplicate report is dropped, not rejected.
	if resp := postJSON(t, server.URL+"/pool/report", report); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("duplicate report status = %d, want 204", resp.StatusCode)
	}

	resp, err := http.Get(server.URL + "/proxies/" + proxyID)
	if err != nil {
		t.Fatalf("get proxy: %v", err)
	}
	detail := decodeBody[dto.ProxyDetail](t, resp)
	if detail.TotalRequests != 1 || detail.SuccessfulRequests != 1 {
		t.Fatalf("counters = %d total / %d successful after duplicate report, want 1 / 1",
			detail.TotalRequests, detail.SuccessfulRequests)
	}
}

func TestReportCarriesErrorCode(t *testing.T) {
	server := newTestServer(t)
	proxyID := addTestProxy(t, server.URL, "10.0.0.1")

	resp := postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d, want 200", resp.StatusCode)
	}
	lease := decodeBody[dto.LeaseInfo](t, resp)

	report := dto.ReportRequest{LeaseId: lease.LeaseId, Success: false, ErrorCode: "connect_timeout"}
	if resp := postJSON(t, server.URL+"/pool/report", report); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("report status = %d, want 204", resp.StatusCode)
	}

	resp, err := http.Get(server.URL + "/proxies/" + proxyID)
	if err != nil {
		t.Fatalf("get proxy: %v", err)
	}
	detail := decodeBody[dto.ProxyDetail](t, resp)
	if detail.LastErrorCode != "connect_timeout" {
		t.Fatalf("last error code = %q, want connect_timeout", detail.LastErrorCode)
	}
}

func TestAcquireRejectsUnknownStrategy(t *testing.T) {
	server := newTestServer(t)
	addTestProxy(t, server.URL, "10.0.0.1")

	resp := postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{Strategy: "psychic"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAddDuplicateProxyConflicts(t *testing.T) {
	server := newTestServer(t)
	addTestProxy(t, server.URL, "10.0.0.1")

	resp := postJSON(t, server.URL+"/proxies", dto.AddProxyRequest{
		Host:     "10.0.0.1",
		Port:     8080,
		Protocol: "http",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestImportEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/proxies/import", dto.ImportRequest{
		Text:     "10.0.0.1:8080\n10.0.0.2:3128\n10.0.0.1:8080\n",
		Protocol: "socks5",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[dto.ImportResult](t, resp)
	if len(result.Added) != 2 || result.Duplicates != 1 {
		t.Fatalf("result = %+v, want 2 added, 1 duplicate", result)
	}
}

func TestProxyLifecycleEndpoints(t *testing.T) {
	server := newTestServer(t)
	proxyID := addTestProxy(t, server.URL, "10.0.0.1")

	resp, err := http.Get(server.URL + "/proxies/" + proxyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	detail := decodeBody[dto.ProxyDetail](t, resp)
	if detail.Status != "active" {
		t.Fatalf("status = %s, want active", detail.Status)
	}

	if resp := postJSON(t, server.URL+"/proxies/"+proxyID+"/disable", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("disable status = %d, want 204", resp.StatusCode)
	}
	if resp := postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{}); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("acquire with all disabled = %d, want 503", resp.StatusCode)
	}
	if resp := postJSON(t, server.URL+"/proxies/"+proxyID+"/enable", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("enable status = %d, want 204", resp.StatusCode)
	}

	if resp := postJSON(t, server.URL+"/proxies/"+proxyID+"/test", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("test status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/proxies/"+proxyID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delResp.StatusCode)
	}

	if resp, _ := http.Get(server.URL + "/proxies/" + proxyID); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestListProxiesWithFilter(t *testing.T) {
	server := newTestServer(t)
	addTestProxy(t, server.URL, "10.0.0.1")
	addTestProxy(t, server.URL, "10.0.0.2")

	resp, err := http.Get(server.URL + "/proxies?status=active&limit=1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	page := decodeBody[dto.ProxyPage](t, resp)
	if len(page.Proxies) != 1 || page.Total != 2 {
		t.Fatalf("page = %d of %d, want 1 of 2", len(page.Proxies), page.Total)
	}

	if resp, _ := http.Get(server.URL + "/proxies?status=sleeping"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", resp.StatusCode)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	server := newTestServer(t)
	addTestProxy(t, server.URL, "10.0.0.1")

	resp, err := http.Get(server.URL + "/statistics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stats := decodeBody[dto.PoolStatistics](t, resp)
	if stats.Total != 1 || stats.ByStatus["active"] != 1 {
		t.Fatalf("stats = %+v, want one active proxy", stats)
	}
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/pool/acquire", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestAcquireWithProtocolFilter(t *testing.T) {
	server := newTestServer(t)
	addTestProxy(t, server.URL, "10.0.0.1")

	resp := postJSON(t, server.URL+"/proxies", dto.AddProxyRequest{
		Host:     "10.0.0.2",
		Port:     1080,
		Protocol: "socks5",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add socks proxy status = %d, want 201", resp.StatusCode)
	}
	socksID := decodeBody[map[string]string](t, resp)["id"]

	resp = postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{Protocol: "socks5"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d, want 200", resp.StatusCode)
	}
	lease := decodeBody[dto.LeaseInfo](t, resp)
	if lease.Proxy.Id != socksID {
		t.Fatalf("proxy = %s, want %s", lease.Proxy.Id, socksID)
	}

	resp = postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{Protocol: "gopher"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad protocol status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/pool/acquire", dto.AcquireRequest{Country: "AQ"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unmatched filter status = %d, want 503", resp.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := config.GetConfig()
	t.Cleanup(func() { config.SetConfigForTests(orig) })

	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/settings")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings status = %d, want 200", resp.StatusCode)
	}
	cfg := decodeBody[config.Config](t, resp)

	cfg.Checker.ActiveTimer = config.Timer{Minutes: 2}
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, server.URL+"/settings", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put settings: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put settings status = %d, want 204", resp.StatusCode)
	}

	if got := config.GetActiveCheckInterval(); got != 2*time.Minute {
		t.Fatalf("active check interval = %s after update, want 2m", got)
	}
}
