package postgres

import "context"

// HealthCheck reports PostgreSQL availability.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Name() string { return "postgres" }

func (h *HealthCheck) Check(ctx context.Context) error {
	return h.pool.Ping(ctx)
}
