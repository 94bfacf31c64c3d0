package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DBPoolCollector exports pgx pool statistics at scrape time.
type DBPoolCollector struct {
	pool *pgxpool.Pool

	connections  *prometheus.Desc
	acquireTotal *prometheus.Desc
	acquireWait  *prometheus.Desc
	emptyAcquire *prometheus.Desc
}

// NewDBPoolCollector creates a collector for pool. Register it once.
func NewDBPoolCollector(pool *pgxpool.Pool) *DBPoolCollector {
	return &DBPoolCollector{
		pool: pool,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_connections"),
			"Number of database connections by state",
			[]string{"state"}, nil,
		),
		acquireTotal: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_acquires_total"),
			"Connections acquired from the pool",
			nil, nil,
		),
		acquireWait: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_acquire_wait_seconds_total"),
			"Time spent waiting for a connection",
			nil, nil,
		),
		emptyAcquire: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "db", "pool_empty_acquires_total"),
			"Acquires that had to wait because the pool was empty",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *DBPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.acquireTotal
	ch <- c.acquireWait
	ch <- c.emptyAcquire
}

// Collect implements prometheus.Collector.
func (c *DBPoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.AcquiredConns()), "in_use")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.MaxConns()), "max")
	ch <- prometheus.MustNewConstMetric(c.acquireTotal, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, stats.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(stats.EmptyAcquireCount()))
}
