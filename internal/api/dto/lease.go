package dto

import "time"

type AcquireRequest struct {
	Strategy         string   `json:"strategy"`
	PreferredCountry string   `json:"preferred_country,omitempty"`
	MinScore         float64  `json:"min_score,omitempty"`
	Country          string   `json:"country,omitempty"`
	Protocol         string   `json:"protocol,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

type LeaseInfo struct {
	LeaseId   string    `json:"lease_id"`
	Proxy     ProxyInfo `json:"proxy"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ReportRequest struct {
	LeaseId        string `json:"lease_id"`
	Success        bool   `json:"success"`
	ResponseTimeMs uint32 `json:"response_time_ms"`
	ErrorCode      string `json:"error_code,omitempty"`
}
