package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/domain/repository"
)

// ClickHouseEventStore implements EventStore on ClickHouse.
// Signal rows are versioned in a ReplacingMergeTree; closing a signal
// inserts a replacement row with a newer version.
type ClickHouseEventStore struct {
	db *sql.DB
}

// NewClickHouseEventStore creates a ClickHouse-backed event store.
func NewClickHouseEventStore(db *sql.DB) repository.EventStore {
	return &ClickHouseEventStore{db: db}
}

// ClickHouseSchema returns the DDL executed on startup.
func ClickHouseSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS trading_signals (
			signal_id        String,
			symbol           String,
			direction        String,
			confidence       Float64,
			power_score      Int32,
			confluence_level String,
			color            String,
			macvu_state      String,
			status           String,
			source           String,
			origin_client_id String,
			created_at       DateTime64(3),
			exit_time        Nullable(DateTime64(3)),
			exit_price       Nullable(Float64),
			metadata         String,
			version          UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY signal_id`,
		`CREATE TABLE IF NOT EXISTS raw_messages (
			client_id   String,
			msg_type    String,
			payload     String,
			received_at DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY received_at
		TTL toDateTime(received_at) + INTERVAL 30 DAY`,
		`CREATE TABLE IF NOT EXISTS system_metrics (
			name        String,
			value       Float64,
			tags        String,
			recorded_at DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY (name, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS websocket_connections (
			client_id   String,
			role        String,
			remote_addr String,
			event       String,
			event_at    DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY event_at`,
	}
}

func (s *ClickHouseEventStore) Init(ctx context.Context) error {
	return nil // Schema init in pkg
}

func (s *ClickHouseEventStore) AppendSignal(ctx context.Context, sig *models.Signal) error {
	return s.insertSignal(ctx, sig, uint64(time.Now().UnixNano()))
}

func (s *ClickHouseEventStore) insertSignal(ctx context.Context, sig *models.Signal, version uint64) error {
	var meta []byte
	if sig.Metadata != nil {
		meta, _ = json.Marshal(sig.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_signals
		(signal_id, symbol, direction, confidence, power_score, confluence_level,
		 color, macvu_state, status, source, origin_client_id, created_at,
		 exit_time, exit_price, metadata, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID,
		sig.Symbol,
		string(sig.Direction),
		sig.Confidence,
		int32(sig.PowerScore),
		sig.ConfluenceLevel,
		string(sig.Color),
		sig.MACVUState,
		string(sig.Status),
		sig.Source,
		sig.OriginClientID,
		sig.CreatedAt,
		sig.ExitTime,
		sig.ExitPrice,
		string(meta),
		version,
	)
	return err
}

func (s *ClickHouseEventStore) AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_messages (client_id, msg_type, payload, received_at) VALUES (?, ?, ?, ?)`,
		clientID, msgType, string(payload), time.Now())
	return err
}

func (s *ClickHouseEventStore) AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	var t []byte
	if tags != nil {
		t, _ = json.Marshal(tags)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_metrics (name, value, tags, recorded_at) VALUES (?, ?, ?, ?)`,
		name, value, string(t), time.Now())
	return err
}

func (s *ClickHouseEventStore) AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websocket_connections (client_id, role, remote_addr, event, event_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, string(info.Role), info.RemoteAddr, event, time.Now())
	return err
}

func (s *ClickHouseEventStore) MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error) {
	sig, err := s.GetSignal(ctx, signalID)
	if err != nil {
		return false, err
	}
	if sig == nil || sig.Status != models.StatusActive {
		return false, nil
	}
	sig.Status = models.StatusClosed
	sig.ExitTime = &exitTime
	if exitPrice != nil {
		sig.ExitPrice = exitPrice
	}
	if err := s.insertSignal(ctx, sig, uint64(time.Now().UnixNano())); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ClickHouseEventStore) GetSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	row := s.db.QueryRowContext(ctx, chSelectSignal+` FINAL WHERE signal_id = ?`, signalID)
	sig, err := chScanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sig, err
}

func (s *ClickHouseEventStore) RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, chSelectSignal+` FINAL ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		sig, err := chScanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *ClickHouseEventStore) Stats(ctx context.Context) (*models.SignalStats, error) {
	stats := &models.SignalStats{
		ByColor: make(map[models.ColorState]int64),
		ByLevel: make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT count(),
		       countIf(status = 'ACTIVE'),
		       countIf(status = 'CLOSED'),
		       countIf(direction = 'BUY'),
		       countIf(direction = 'SELL'),
		       coalesce(avg(confidence), 0),
		       coalesce(avg(power_score), 0)
		FROM trading_signals FINAL`)
	if err := row.Scan(&stats.TotalSignals, &stats.ActiveSignals, &stats.ClosedSignals,
		&stats.BuySignals, &stats.SellSignals, &stats.AvgConfidence, &stats.AvgPowerScore); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT color, count() FROM trading_signals FINAL GROUP BY color`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var color string
		var n int64
		if err := rows.Scan(&color, &n); err != nil {
			return nil, err
		}
		stats.ByColor[models.ColorState(color)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lvlRows, err := s.db.QueryContext(ctx,
		`SELECT confluence_level, count() FROM trading_signals FINAL WHERE confluence_level != '' GROUP BY confluence_level`)
	if err != nil {
		return nil, err
	}
	defer lvlRows.Close()
	for lvlRows.Next() {
		var level string
		var n int64
		if err := lvlRows.Scan(&level, &n); err != nil {
			return nil, err
		}
		stats.ByLevel[level] = n
	}
	return stats, lvlRows.Err()
}

func (s *ClickHouseEventStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseEventStore) Close() error {
	return s.db.Close()
}

const chSelectSignal = `
	SELECT signal_id, symbol, direction, confidence, power_score, confluence_level,
	       color, macvu_state, status, source, origin_client_id, created_at,
	       exit_time, exit_price, metadata
	FROM trading_signals`

func chScanSignal(row rowScanner) (*models.Signal, error) {
	var sig models.Signal
	var direction, color, status, meta string
	var power int32
	var exitTime sql.NullTime
	var exitPrice sql.NullFloat64
	if err := row.Scan(&sig.ID, &sig.Symbol, &direction, &sig.Confidence, &power,
		&sig.ConfluenceLevel, &color, &sig.MACVUState, &status, &sig.Source,
		&sig.OriginClientID, &sig.CreatedAt, &exitTime, &exitPrice, &meta); err != nil {
		return nil, err
	}
	sig.PowerScore = int(power)
	sig.Direction = models.Direction(direction)
	sig.Color = models.ColorState(color)
	sig.Status = models.SignalStatus(status)
	if exitTime.Valid {
		sig.ExitTime = &exitTime.Time
	}
	if exitPrice.Valid {
		sig.ExitPrice = &exitPrice.Float64
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &sig.Metadata)
	}
	return &sig, nil
}
