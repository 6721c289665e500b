package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ClaimRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_claim_requests_total",
			Help: "Total claim requests sent to the backing queue service",
		},
		[]string{"queue"},
	)

	EmptyPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_empty_polls_total",
			Help: "Total claim requests that returned no messages",
		},
		[]string{"queue"},
	)

	MessagesClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_messages_claimed_total",
			Help: "Total messages claimed into the prefetch cache",
		},
		[]string{"queue"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_prefetch_hits_total",
			Help: "Total pops served from the prefetch cache without a claim request",
		},
		[]string{"queue"},
	)

	MessagesPushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_messages_pushed_total",
			Help: "Total messages pushed",
		},
		[]string{"queue"},
	)

	MessagesAcked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_messages_acked_total",
			Help: "Total claimed messages acknowledged and deleted",
		},
		[]string{"queue"},
	)

	MessagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudqueues_messages_failed_total",
			Help: "Total messages whose handler returned an error",
		},
		[]string{"queue"},
	)

	PopWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudqueues_pop_wait_seconds",
			Help:    "Time spent inside pop, including polling",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	ActiveClaims = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudqueues_active_claims",
			Help: "Messages delivered by pop and not yet acknowledged",
		},
	)
)

var setupOnce sync.Once

// Setup registers the collectors with the default registry. Safe to call
// more than once.
func Setup() {
	setupOnce.Do(func() {
		prometheus.MustRegister(ClaimRequests)
		prometheus.MustRegister(EmptyPolls)
		prometheus.MustRegister(MessagesClaimed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(MessagesPushed)
		prometheus.MustRegister(MessagesAcked)
		prometheus.MustRegister(MessagesFailed)
		prometheus.MustRegister(PopWait)
		prometheus.MustRegister(ActiveClaims)
	})
}
