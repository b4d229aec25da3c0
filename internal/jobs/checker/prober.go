package checker

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"proxypool/internal/config"
	"proxypool/internal/domain"
)

// HTTPProber runs the real health check: a TCP connect to the proxy
// endpoint followed by a GET against the judge through the proxy. The
// judge echoes the request headers back, which is what the anonymity
// classification reads.
type HTTPProber struct{}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{}
}

func (p *HTTPProber) Probe(ctx context.Context, target *domain.Proxy) domain.HealthCheckResult {
	cfg := config.GetConfig()
	timeout := time.Duration(cfg.Checker.Timeout) * time.Millisecond
	result := domain.HealthCheckResult{
		ProxyID:   target.ID,
		CheckedAt: time.Now(),
	}

	// Fail fast on a dead endpoint before paying for a full HTTP exchange.
	conn, err := net.DialTimeout("tcp", target.Endpoint(), timeout)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	_ = conn.Close()

	transport, err := CreateTransport(target, timeout)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	judgeURL := cfg.Checker.JudgeURL
	if target.Protocol.IsSocks() && cfg.Checker.UseHttpsForSocks {
		judgeURL = strings.Replace(judgeURL, "http://", "https://", 1)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, judgeURL, nil)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	req.Header.Set("Connection", "close")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	if resp.StatusCode != http.StatusOK {
		result.ErrorMessage = "judge returned " + resp.Status
		return result
	}

	result.Success = true
	result.Anonymity, result.RealIPDetected = ClassifyAnonymity(string(body))
	return result
}

// ClassifyAnonymity reads the judge's echo of our request. Seeing our own
// egress IP means the proxy is transparent; seeing any proxy-identifying
// header means it is anonymous but detectable; a clean echo is elite.
func ClassifyAnonymity(body string) (domain.AnonymityLevel, bool) {
	ownIP := config.GetCurrentIp()
	if ownIP != "" && strings.Contains(body, ownIP) {
		return domain.AnonymityTransparent, true
	}

	normalized := strings.ToUpper(strings.ReplaceAll(body, "_", "-"))
	for _, header := range config.GetConfig().Checker.ProxyHeader {
		if strings.Contains(normalized, header) {
			return domain.AnonymityAnonymous, false
		}
	}

	return domain.AnonymityElite, false
}
