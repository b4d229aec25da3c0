package domain

import "time"

// AnonymityLevel orders how much a proxy reveals about the caller.
type AnonymityLevel int

const (
	AnonymityUnknown AnonymityLevel = iota
	AnonymityTransparent
	AnonymityAnonymous
	AnonymityElite
)

func (l AnonymityLevel) String() string {
	switch l {
	case AnonymityTransparent:
		return "transparent"
	case AnonymityAnonymous:
		return "anonymous"
	case AnonymityElite:
		return "elite"
	default:
		return "unknown"
	}
}

// HealthCheckResult is the outcome of one out-of-band probe.
type HealthCheckResult struct {
	ProxyID        string         `json:"proxy_id"`
	Success        bool           `json:"success"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Anonymity      AnonymityLevel `json:"anonymity"`
	RealIPDetected bool           `json:"real_ip_detected"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}
