package models

import "time"

// SignalStats is the running aggregate over all processed signals.
type SignalStats struct {
	TotalSignals  int64   `json:"total_signals"`
	ActiveSignals int64   `json:"active_signals"`
	ClosedSignals int64   `json:"closed_signals"`
	BuySignals    int64   `json:"buy_signals"`
	SellSignals   int64   `json:"sell_signals"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgPowerScore float64 `json:"avg_power_score"`

	ByColor map[ColorState]int64 `json:"by_color"`
	ByLevel map[string]int64     `json:"by_level"`
}

// SystemPerformance describes process-level throughput for status reports.
type SystemPerformance struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	MessagesProcessed int64   `json:"messages_processed"`
	MessagesPerSecond float64 `json:"messages_per_second"`
	StorageHealthy    bool    `json:"storage_healthy"`
}

// StatusSnapshot is the full status view served to clients and the control API.
type StatusSnapshot struct {
	Timestamp      time.Time         `json:"timestamp"`
	TradingEnabled bool              `json:"trading_enabled"`
	Signals        SignalStats       `json:"signal_statistics"`
	Performance    SystemPerformance `json:"system_performance"`
	Connections    map[Role]int      `json:"connections_by_role"`
	RecentErrors   []map[string]any  `json:"recent_errors,omitempty"`
}
