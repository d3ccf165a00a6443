package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/commentater"
)

// QueueStatsSource reports aggregate task queue counts.
type QueueStatsSource interface {
	QueueStats(ctx context.Context) (commentater.QueueStats, error)
}

var queueTasksDesc = prometheus.NewDesc(
	"commentater_queue_tasks",
	"Number of article queue tasks, labeled by state.",
	[]string{"state"},
	nil,
)

// QueueCollector reads queue counts from the database on every scrape.
type QueueCollector struct {
	source  QueueStatsSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewQueueCollector constructs a QueueCollector. Register it once with a
// prometheus.Registerer.
func NewQueueCollector(source QueueStatsSource, timeout time.Duration, logger *zap.Logger) *QueueCollector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueCollector{source: source, timeout: timeout, logger: logger}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueTasksDesc
}

// Collect implements prometheus.Collector. A failed query yields no samples.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.QueueStats(ctx)
	if err != nil {
		c.logger.Warn("queue stats scrape failed", zap.Error(err))
		return
	}
	for state, v := range map[string]int64{
		"total":   stats.Total,
		"done":    stats.Done,
		"pending": stats.Pending,
		"errored": stats.Errored,
	} {
		ch <- prometheus.MustNewConstMetric(queueTasksDesc, prometheus.GaugeValue, float64(v), state)
	}
}
