package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSink receives streamed mark prices.
type PriceSink interface {
	SetMarkPrice(symbol string, price decimal.Decimal)
}

const allMarkPricesStream = "!markPrice@arr"

// MarkPriceFeed keeps a price sink warm from markPriceUpdate events
// so order sizing rarely has to hit the REST endpoint.
type MarkPriceFeed struct {
	client *Client
	sink   PriceSink
	log    *zap.Logger
	stream []string
}

// NewMarkPriceFeed builds a feed for the given symbols. With no
// symbols it subscribes to the combined all-market stream.
func NewMarkPriceFeed(client *Client, sink PriceSink, symbols []string, log *zap.Logger) *MarkPriceFeed {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		streams = append(streams, strings.ToLower(s)+"@markPrice")
	}
	if len(streams) == 0 {
		streams = []string{allMarkPricesStream}
	}
	return &MarkPriceFeed{client: client, sink: sink, log: log, stream: streams}
}

// Run connects, subscribes and pumps events until ctx is cancelled.
func (f *MarkPriceFeed) Run(ctx context.Context) error {
	if err := f.client.Connect(ctx); err != nil {
		return err
	}
	if err := f.client.Subscribe(ctx, f.stream...); err != nil {
		return err
	}
	f.log.Info("mark price feed started", zap.Strings("streams", f.stream))
	return f.client.Run(ctx, f.handle)
}

type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (f *MarkPriceFeed) handle(raw json.RawMessage) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var events []markPriceEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			f.log.Debug("unparseable ws batch", zap.Error(err))
			return
		}
		for _, ev := range events {
			f.apply(ev)
		}
		return
	}
	var ev markPriceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		f.log.Debug("unparseable ws message", zap.Error(err))
		return
	}
	f.apply(ev)
}

func (f *MarkPriceFeed) apply(ev markPriceEvent) {
	if ev.EventType != "markPriceUpdate" || ev.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(ev.MarkPrice)
	if err != nil || price.Sign() <= 0 {
		f.log.Debug("dropping bad mark price", zap.String("symbol", ev.Symbol), zap.String("price", ev.MarkPrice))
		return
	}
	f.sink.SetMarkPrice(ev.Symbol, price)
}
