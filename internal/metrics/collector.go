package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omarluq/tpmguard/internal/ratelimit"
)

// bucketCollector reports live bucket state. Reading a snapshot never mutates a bucket.
type bucketCollector struct {
	manager   *ratelimit.Manager
	available *prometheus.Desc
	capacity  *prometheus.Desc
	rate      *prometheus.Desc
}

func newBucketCollector(manager *ratelimit.Manager) *bucketCollector {
	labels := []string{"key"}
	return &bucketCollector{
		manager: manager,
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bucket", "available_tokens"),
			"Tokens currently available, including pending refill", labels, nil),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bucket", "capacity_tokens"),
			"Maximum tokens the bucket can hold", labels, nil),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bucket", "tokens_per_minute"),
			"Refill rate in tokens per minute", labels, nil),
	}
}

func (c *bucketCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.capacity
	ch <- c.rate
}

func (c *bucketCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.manager.Snapshots() {
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, s.Available, s.Key)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, s.MaxCapacity, s.Key)
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, s.TokensPerMinute, s.Key)
	}
}
