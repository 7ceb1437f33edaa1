package repository

import (
	"context"
	"time"

	"EnigmaHub/internal/domain/models"
)

// EventStore persists signals and operational events.
type EventStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	AppendSignal(ctx context.Context, s *models.Signal) error
	AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error
	AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error
	AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error
	MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error)
	GetSignal(ctx context.Context, signalID string) (*models.Signal, error)
	RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error)
	Stats(ctx context.Context) (*models.SignalStats, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Firehose publishes classified signals to an external stream.
type Firehose interface {
	Publish(ctx context.Context, s *models.Signal) error
	Close() error
}

// MarketDataSource fetches quotes from an external REST provider.
type MarketDataSource interface {
	Latest(ctx context.Context, symbol string) (*models.Quote, error)
}

// Metrics records operational counters and gauges.
type Metrics interface {
	RecordMessageReceived(msgType string)
	RecordSignal(direction, color string)
	RecordBroadcast(msgType string)
	RecordError(kind string)
	RecordConnections(role string, n int)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
