package dto

import (
	"time"

	"proxypool/internal/domain"
)

type AddProxyRequest struct {
	Host          string   `json:"host"`
	Port          uint16   `json:"port"`
	Protocol      string   `json:"protocol"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	MaxConcurrent int32    `json:"max_concurrent,omitempty"`
}

type ImportRequest struct {
	Text     string `json:"text"`
	Protocol string `json:"protocol"`
}

type ImportResult struct {
	Added      []string `json:"added"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
}

// ProxyDetail is the admin view of a pool entry, health state included.
type ProxyDetail struct {
	Id                  string     `json:"id"`
	Host                string     `json:"host"`
	Port                uint16     `json:"port"`
	Protocol            string     `json:"protocol"`
	Status              string     `json:"status"`
	Country             string     `json:"country,omitempty"`
	City                string     `json:"city,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	MaxConcurrent       int32      `json:"max_concurrent"`
	InFlight            int32      `json:"in_flight"`
	TotalRequests       uint64     `json:"total_requests"`
	SuccessfulRequests  uint64     `json:"successful_requests"`
	FailedRequests      uint64     `json:"failed_requests"`
	SuccessRate         float64    `json:"success_rate"`
	AvgResponseTimeMs   float64    `json:"avg_response_time_ms"`
	AvailabilityScore   float64    `json:"availability_score"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastErrorCode       string     `json:"last_error_code,omitempty"`
	Anonymity           string     `json:"anonymity"`
	CreatedAt           time.Time  `json:"created_at"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

func ProxyDetailFrom(proxy *domain.Proxy, metrics domain.ProxyMetrics, anonymity domain.AnonymityLevel, inFlight int32) ProxyDetail {
	return ProxyDetail{
		Id:                  proxy.ID,
		Host:                proxy.Host,
		Port:                proxy.Port,
		Protocol:            string(proxy.Protocol),
		Status:              string(proxy.Status),
		Country:             proxy.Country,
		City:                proxy.City,
		Tags:                []string(proxy.Tags),
		MaxConcurrent:       proxy.MaxConcurrent,
		InFlight:            inFlight,
		TotalRequests:       metrics.TotalRequests,
		SuccessfulRequests:  metrics.SuccessfulRequests,
		FailedRequests:      metrics.FailedRequests,
		SuccessRate:         metrics.SuccessRate(),
		AvgResponseTimeMs:   metrics.AvgResponseTimeMs,
		AvailabilityScore:   metrics.AvailabilityScore(),
		ConsecutiveFailures: metrics.ConsecutiveFailures,
		LastErrorCode:       metrics.LastErrorCode,
		Anonymity:           anonymity.String(),
		CreatedAt:           proxy.CreatedAt,
		LastSuccessAt:       metrics.LastSuccessAt,
		LastFailureAt:       metrics.LastFailureAt,
	}
}

type ProxyPage struct {
	Proxies []ProxyDetail `json:"proxies"`
	Total   int           `json:"total"`
}
