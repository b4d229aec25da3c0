package domain

import "time"

const (
	// responseTimeCeilingMs is where the speed factor bottoms out: a proxy
	// averaging this slow contributes nothing to its availability score.
	responseTimeCeilingMs = 5000.0

	// ewmaAlpha weights the newest response time in the moving average.
	ewmaAlpha = 0.3

	successRateWeight = 0.7
	speedFactorWeight = 0.3
)

// ProxyMetrics holds the rolling performance counters for one proxy. It is a
// value object owned by the metrics tracker; all mutation goes through
// RecordSuccess/RecordFailure under the tracker's per-proxy lock.
type ProxyMetrics struct {
	TotalRequests       uint64     `json:"total_requests"`
	SuccessfulRequests  uint64     `json:"successful_requests"`
	FailedRequests      uint64     `json:"failed_requests"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastErrorCode       string     `json:"last_error_code,omitempty"`
	AvgResponseTimeMs   float64    `json:"avg_response_time_ms"`
}

func (m *ProxyMetrics) RecordSuccess(responseTimeMs int64, now time.Time) {
	m.TotalRequests++
	m.SuccessfulRequests++
	m.ConsecutiveFailures = 0
	m.LastSuccessAt = &now
	m.LastErrorCode = ""

	if responseTimeMs < 0 {
		return
	}
	if m.AvgResponseTimeMs == 0 {
		m.AvgResponseTimeMs = float64(responseTimeMs)
	} else {
		m.AvgResponseTimeMs = ewmaAlpha*float64(responseTimeMs) + (1-ewmaAlpha)*m.AvgResponseTimeMs
	}
}

func (m *ProxyMetrics) RecordFailure(now time.Time, errorCode string) {
	m.TotalRequests++
	m.FailedRequests++
	m.ConsecutiveFailures++
	m.LastFailureAt = &now
	if errorCode != "" {
		m.LastErrorCode = errorCode
	}
}

// SuccessRate is successful/total, 0 for a proxy that was never exercised.
func (m *ProxyMetrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// SpeedFactor maps the average response time onto [0,1], 1 being instant.
func (m *ProxyMetrics) SpeedFactor() float64 {
	factor := 1 - m.AvgResponseTimeMs/responseTimeCeilingMs
	if factor < 0 {
		return 0
	}
	return factor
}

// AvailabilityScore is the composite rank used by selection, always in [0,1].
func (m *ProxyMetrics) AvailabilityScore() float64 {
	score := successRateWeight*m.SuccessRate() + speedFactorWeight*m.SpeedFactor()
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
