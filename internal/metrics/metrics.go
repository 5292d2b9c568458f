package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersRejected  Counter
	OrdersFailed    Counter
	CacheHits       Counter
	CacheMisses     Counter
	LeverageCalls   Counter
	LeverageSkipped Counter
	UpstreamRetries Counter
	TimeSyncs       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersRejected:  n,
		OrdersFailed:    n,
		CacheHits:       n,
		CacheMisses:     n,
		LeverageCalls:   n,
		LeverageSkipped: n,
		UpstreamRetries: n,
		TimeSyncs:       n,
	}
}
