// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 发券链路的核心指标，通过 /metrics 暴露给 Prometheus。
var (
	CouponsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_issued_total",
		Help: "Number of coupons successfully issued, by path (sync/worker).",
	}, []string{"path"})

	CouponsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_rejected_total",
		Help: "Number of issuance attempts rejected, by reason.",
	}, []string{"reason"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coupon_issue_queue_depth",
		Help: "Current number of pending requests in the per-template ranking queue.",
	}, []string{"template_id"})

	WorkerProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coupon_worker_processing_seconds",
		Help:    "Wall time spent processing one queued issuance request.",
		Buckets: prometheus.DefBuckets,
	})
)
