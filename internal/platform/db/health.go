package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats reports connection pool usage on the health endpoint.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Probe is one named dependency check run by the health endpoint.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// HealthReport is the JSON body served by the health endpoint.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

// PoolProbe checks the database pool with a ping.
func PoolProbe(pool *pgxpool.Pool) Probe {
	return Probe{Name: "database", Check: pool.Ping}
}

// HealthHandler runs every probe under a short deadline. A failing required
// probe makes the endpoint answer 503; optional probes only report "degraded".
func HealthHandler(stats func() *PoolStats, probes ...Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := HealthReport{Status: "healthy", Checks: make(map[string]string, len(probes))}
		code := http.StatusOK
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				report.Checks[p.Name] = err.Error()
				if p.Optional {
					if report.Status == "healthy" {
						report.Status = "degraded"
					}
					continue
				}
				report.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			report.Checks[p.Name] = "ok"
		}
		if stats != nil {
			report.Pool = stats()
		}
		return c.JSON(code, report)
	}
}
