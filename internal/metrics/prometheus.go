package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "futures_gateway"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	ordersPlaced := newCounter("orders_placed_total", "Total number of orders accepted by the exchange.")
	ordersRejected := newCounter("orders_rejected_total", "Total number of orders rejected before submission.")
	ordersFailed := newCounter("orders_failed_total", "Total number of order submissions that failed upstream.")
	cacheHits := newCounter("cache_hits_total", "Total number of metadata cache hits.")
	cacheMisses := newCounter("cache_misses_total", "Total number of metadata cache misses.")
	leverageCalls := newCounter("leverage_calls_total", "Total number of leverage-change calls issued.")
	leverageSkipped := newCounter("leverage_skipped_total", "Total number of leverage changes served from cache.")
	upstreamRetries := newCounter("upstream_retries_total", "Total number of retried upstream calls.")
	timeSyncs := newCounter("time_syncs_total", "Total number of server time synchronizations.")

	m := &Metrics{
		OrdersPlaced:    promCounter{ordersPlaced},
		OrdersRejected:  promCounter{ordersRejected},
		OrdersFailed:    promCounter{ordersFailed},
		CacheHits:       promCounter{cacheHits},
		CacheMisses:     promCounter{cacheMisses},
		LeverageCalls:   promCounter{leverageCalls},
		LeverageSkipped: promCounter{leverageSkipped},
		UpstreamRetries: promCounter{upstreamRetries},
		TimeSyncs:       promCounter{timeSyncs},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
