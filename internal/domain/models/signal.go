package models

import "time"

// Direction is the trade side derived from a raw signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ColorState is the strength band assigned to a signal.
type ColorState string

const (
	ColorRed     ColorState = "RED"
	ColorYellow  ColorState = "YELLOW"
	ColorGreen   ColorState = "GREEN"
	ColorNeutral ColorState = "NEUTRAL"
)

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusActive SignalStatus = "ACTIVE"
	StatusClosed SignalStatus = "CLOSED"
)

// Signal is a classified trading signal.
type Signal struct {
	ID              string         `json:"signal_id"`
	Symbol          string         `json:"symbol,omitempty"`
	Direction       Direction      `json:"direction"`
	Confidence      float64        `json:"confidence"`
	PowerScore      int            `json:"power_score"`
	ConfluenceLevel string         `json:"confluence_level,omitempty"`
	Color           ColorState     `json:"signal_color"`
	MACVUState      string         `json:"macvu_state,omitempty"`
	Status          SignalStatus   `json:"status"`
	Source          string         `json:"source,omitempty"`
	OriginClientID  string         `json:"origin_client_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExitTime        *time.Time     `json:"exit_time,omitempty"`
	ExitPrice       *float64       `json:"exit_price,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RawSignal is the unvalidated payload carried by an enigma_update message.
type RawSignal struct {
	PowerScore      any    `json:"power_score"`
	ConfluenceLevel string `json:"confluence_level"`
	SignalColor     string `json:"signal_color"`
	MACVUState      string `json:"macvu_state"`
	Symbol          string `json:"symbol"`
	Direction       string `json:"direction"`
	Timestamp       string `json:"timestamp"`
}

// Quote is a polled market data point.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}
