package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/domain/repository"
)

// SQLiteEventStore implements EventStore on a local SQLite file.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore creates a SQLite-backed event store.
func NewSQLiteEventStore(db *sql.DB) repository.EventStore {
	return &SQLiteEventStore{db: db}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS trading_signals (
		signal_id        TEXT PRIMARY KEY,
		symbol           TEXT,
		direction        TEXT NOT NULL,
		confidence       REAL NOT NULL,
		power_score      INTEGER NOT NULL,
		confluence_level TEXT,
		color            TEXT NOT NULL,
		macvu_state      TEXT,
		status           TEXT NOT NULL,
		source           TEXT,
		origin_client_id TEXT,
		created_at       TEXT NOT NULL,
		exit_time        TEXT,
		exit_price       REAL,
		metadata         TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_status ON trading_signals (status)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created ON trading_signals (created_at)`,
	`CREATE TABLE IF NOT EXISTS raw_messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id   TEXT,
		msg_type    TEXT,
		payload     TEXT,
		received_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_metrics (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL,
		value       REAL NOT NULL,
		tags        TEXT,
		recorded_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS websocket_connections (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id   TEXT NOT NULL,
		role        TEXT,
		remote_addr TEXT,
		event       TEXT NOT NULL,
		event_at    TEXT NOT NULL
	)`,
}

func (s *SQLiteEventStore) Init(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteEventStore) AppendSignal(ctx context.Context, sig *models.Signal) error {
	var meta []byte
	if sig.Metadata != nil {
		meta, _ = json.Marshal(sig.Metadata)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trading_signals
		(signal_id, symbol, direction, confidence, power_score, confluence_level,
		 color, macvu_state, status, source, origin_client_id, created_at,
		 exit_time, exit_price, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID,
		sig.Symbol,
		string(sig.Direction),
		sig.Confidence,
		sig.PowerScore,
		sig.ConfluenceLevel,
		string(sig.Color),
		sig.MACVUState,
		string(sig.Status),
		sig.Source,
		sig.OriginClientID,
		formatTime(sig.CreatedAt),
		formatTimePtr(sig.ExitTime),
		sig.ExitPrice,
		nullableString(meta),
	)
	return err
}

func (s *SQLiteEventStore) AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_messages (client_id, msg_type, payload, received_at) VALUES (?, ?, ?, ?)`,
		clientID, msgType, string(payload), formatTime(time.Now()))
	return err
}

func (s *SQLiteEventStore) AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	var t []byte
	if tags != nil {
		t, _ = json.Marshal(tags)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_metrics (name, value, tags, recorded_at) VALUES (?, ?, ?, ?)`,
		name, value, nullableString(t), formatTime(time.Now()))
	return err
}

func (s *SQLiteEventStore) AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO websocket_connections (client_id, role, remote_addr, event, event_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, string(info.Role), info.RemoteAddr, event, formatTime(time.Now()))
	return err
}

func (s *SQLiteEventStore) MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trading_signals
		SET status = ?, exit_time = ?, exit_price = COALESCE(?, exit_price)
		WHERE signal_id = ? AND status = ?`,
		string(models.StatusClosed), formatTime(exitTime), exitPrice,
		signalID, string(models.StatusActive))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteEventStore) GetSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	row := s.db.QueryRowContext(ctx, selectSignalColumns+` WHERE signal_id = ?`, signalID)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sig, err
}

func (s *SQLiteEventStore) RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectSignalColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *SQLiteEventStore) Stats(ctx context.Context) (*models.SignalStats, error) {
	stats := &models.SignalStats{
		ByColor: make(map[models.ColorState]int64),
		ByLevel: make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ACTIVE' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN direction = 'BUY' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN direction = 'SELL' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(AVG(power_score), 0)
		FROM trading_signals`)
	if err := row.Scan(&stats.TotalSignals, &stats.ActiveSignals, &stats.ClosedSignals,
		&stats.BuySignals, &stats.SellSignals, &stats.AvgConfidence, &stats.AvgPowerScore); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT color, COUNT(*) FROM trading_signals GROUP BY color`)
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
		`SELECT confluence_level, COUNT(*) FROM trading_signals WHERE confluence_level != '' GROUP BY confluence_level`)
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

func (s *SQLiteEventStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

const selectSignalColumns = `
	SELECT signal_id, symbol, direction, confidence, power_score, confluence_level,
	       color, macvu_state, status, source, origin_client_id, created_at,
	       exit_time, exit_price, metadata
	FROM trading_signals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	var sig models.Signal
	var direction, color, status, createdAt string
	var exitTime, meta sql.NullString
	var exitPrice sql.NullFloat64
	if err := row.Scan(&sig.ID, &sig.Symbol, &direction, &sig.Confidence, &sig.PowerScore,
		&sig.ConfluenceLevel, &color, &sig.MACVUState, &status, &sig.Source,
		&sig.OriginClientID, &createdAt, &exitTime, &exitPrice, &meta); err != nil {
		return nil, err
	}
	sig.Direction = models.Direction(direction)
	sig.Color = models.ColorState(color)
	sig.Status = models.SignalStatus(status)
	sig.CreatedAt = parseStoredTime(createdAt)
	if exitTime.Valid && exitTime.String != "" {
		t := parseStoredTime(exitTime.String)
		sig.ExitTime = &t
	}
	if exitPrice.Valid {
		sig.ExitPrice = &exitPrice.Float64
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &sig.Metadata)
	}
	return &sig, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseStoredTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
