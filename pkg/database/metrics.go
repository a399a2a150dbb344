package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exports pgxpool statistics as Prometheus metrics.
type PoolStatsCollector struct {
	pool *pgxpool.Pool

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	max          *prometheus.Desc
	emptyAcquire *prometheus.Desc
	acquireTime  *prometheus.Desc
}

// NewPoolStatsCollector builds a collector for pool.
func NewPoolStatsCollector(pool *pgxpool.Pool) *PoolStatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("identity_db_pool_"+name, help, nil, nil)
	}
	return &PoolStatsCollector{
		pool:         pool,
		acquired:     desc("acquired_connections", "Connections currently checked out."),
		idle:         desc("idle_connections", "Connections currently idle."),
		total:        desc("total_connections", "Connections currently open."),
		max:          desc("max_connections", "Configured connection ceiling."),
		emptyAcquire: desc("empty_acquire_total", "Acquires that had to wait for a free connection."),
		acquireTime:  desc("acquire_duration_seconds_total", "Cumulative time spent acquiring connections."),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.emptyAcquire
	ch <- c.acquireTime
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireTime, prometheus.CounterValue, s.AcquireDuration().Seconds())
}

// RegisterPoolMetrics registers a PoolStatsCollector with reg.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	return reg.Register(NewPoolStatsCollector(pool))
}
