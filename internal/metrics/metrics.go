package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Submissions        prometheus.Counter
	GatewayFailures    prometheus.Counter
	MalformedReplies   prometheus.Counter
	ToolCallsProposed  prometheus.Counter
	ToolCallsConfirmed prometheus.Counter
	ToolCallsCancelled prometheus.Counter
	ToolCallsFailed    prometheus.Counter
	StoreMutations     prometheus.Counter
	RateLimited        prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			Submissions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "chat_submissions_total",
				Help:      "Total user chat submissions accepted",
			}),
			GatewayFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "gateway_failures_total",
				Help:      "Total model gateway transport failures",
			}),
			MalformedReplies: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "gateway_malformed_total",
				Help:      "Total malformed model replies",
			}),
			ToolCallsProposed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "toolcalls_proposed_total",
				Help:      "Total tool calls parked awaiting confirmation",
			}),
			ToolCallsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "toolcalls_confirmed_total",
				Help:      "Total tool calls confirmed and dispatched",
			}),
			ToolCallsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "toolcalls_cancelled_total",
				Help:      "Total tool calls cancelled by the user",
			}),
			ToolCallsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "toolcalls_failed_total",
				Help:      "Total confirmed tool calls that failed during dispatch",
			}),
			StoreMutations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "store_mutations_total",
				Help:      "Total record store mutations applied",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dataloom",
				Name:      "ratelimit_rejections_total",
				Help:      "Total submissions rejected by the hourly rate limit",
			}),
		}
		prometheus.MustRegister(
			global.Submissions, global.GatewayFailures, global.MalformedReplies,
			global.ToolCallsProposed, global.ToolCallsConfirmed, global.ToolCallsCancelled,
			global.ToolCallsFailed, global.StoreMutations, global.RateLimited,
		)
	})
	return global
}
