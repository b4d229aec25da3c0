package domain

// Status is the lifecycle state of a pool entry. Only Active proxies are
// handed out; Retired is terminal and never left again.
type Status string

const (
	StatusActive      Status = "active"
	StatusQuarantined Status = "quarantined"
	StatusDisabled    Status = "disabled"
	StatusRetired     Status = "retired"
)

// AllStatuses lists every lifecycle state. Consumers that report per-status
// breakdowns iterate this so empty states still show up as zero.
var AllStatuses = []Status{StatusActive, StatusQuarantined, StatusDisabled, StatusRetired}

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusQuarantined, StatusDisabled, StatusRetired:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusRetired
}

// Selectable reports whether the selection engine may hand this proxy out.
func (s Status) Selectable() bool {
	return s == StatusActive
}

func (s Status) String() string {
	return string(s)
}
