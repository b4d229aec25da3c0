package dto

type PoolStatistics struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByProtocol   map[string]int `json:"by_protocol"`
	ByCountry    map[string]int `json:"by_country"`
	ActiveLeases int            `json:"active_leases"`

	AvgAvailabilityScore float64 `json:"avg_availability_score"`
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	TotalRequests        uint64  `json:"total_requests"`
	SuccessfulRequests   uint64  `json:"successful_requests"`
	FailedRequests       uint64  `json:"failed_requests"`

	// Instances is only reported when the pool shares probe work over Redis.
	Instances int `json:"instances,omitempty"`
}
