package usecase

import (
	"context"
	"time"

	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/internal/hub"
	"EnigmaHub/pkg/logger"
)

// MarketPoller periodically fetches quotes from a REST market data source
// and fans them out to hub clients as price_update frames. Each quote is
// also recorded as a metric for later analysis.
type MarketPoller struct {
	source   domrepo.MarketDataSource
	store    domrepo.EventStore
	hub      *hub.Hub
	metrics  domrepo.Metrics
	log      *logger.Logger
	symbols  []string
	interval time.Duration
}

func NewMarketPoller(source domrepo.MarketDataSource, store domrepo.EventStore, h *hub.Hub,
	metrics domrepo.Metrics, log *logger.Logger, symbols []string, interval time.Duration) *MarketPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MarketPoller{
		source:   source,
		store:    store,
		hub:      h,
		metrics:  metrics,
		log:      log,
		symbols:  symbols,
		interval: interval,
	}
}

// Start launches the polling loop. It returns immediately.
func (p *MarketPoller) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *MarketPoller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *MarketPoller) pollAll(ctx context.Context) {
	for _, symbol := range p.symbols {
		quote, err := p.source.Latest(ctx, symbol)
		if err != nil {
			p.metrics.RecordError("market_poll")
			p.log.Warn("market poll failed",
				logger.String("symbol", symbol),
				logger.Error(err))
			continue
		}
		p.metrics.RecordLastPrice(quote.Symbol, quote.Price)
		p.hub.BroadcastQuote(quote)
		if err := p.store.AppendMetric(ctx, "last_price", quote.Price,
			map[string]string{"symbol": quote.Symbol}); err != nil {
			p.log.Warn("quote metric append failed", logger.Error(err))
		}
	}
}
