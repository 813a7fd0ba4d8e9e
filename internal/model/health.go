package model

import "time"

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type ServiceHealth struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

type HealthReport struct {
	Overall   HealthStatus             `json:"overall"`
	Services  map[string]ServiceHealth `json:"services"`
	Healthy   int                      `json:"healthy"`
	Total     int                      `json:"total"`
	CheckedAt time.Time                `json:"checkedAt"`
}

// NewHealthReport derives the overall status: healthy when every service is
// healthy, unhealthy when none is (or there are none), degraded otherwise.
func NewHealthReport(services map[string]ServiceHealth, at time.Time) HealthReport {
	healthy := 0
	for _, s := range services {
		if s.Status == StatusHealthy {
			healthy++
		}
	}

	overall := StatusDegraded
	switch {
	case healthy == 0:
		overall = StatusUnhealthy
	case healthy == len(services):
		overall = StatusHealthy
	}

	return HealthReport{
		Overall:   overall,
		Services:  services,
		Healthy:   healthy,
		Total:     len(services),
		CheckedAt: at,
	}
}
