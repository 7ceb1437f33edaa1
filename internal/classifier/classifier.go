package classifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/pkg/util"
)

// Config holds the classification thresholds. Zero values are replaced
// with the standard 50/30/70/100 rule set.
type Config struct {
	BuyThreshold      int
	RedBelow          int
	GreenAbove        int
	ConfidenceDivisor float64
}

func (c *Config) normalize() {
	if c.BuyThreshold == 0 {
		c.BuyThreshold = 50
	}
	if c.RedBelow == 0 {
		c.RedBelow = 30
	}
	if c.GreenAbove == 0 {
		c.GreenAbove = 70
	}
	if c.ConfidenceDivisor == 0 {
		c.ConfidenceDivisor = 100
	}
}

// Classifier turns raw signal payloads into classified signals.
// Classification is deterministic: the same payload always yields the
// same direction, confidence, and color. IDs carry a per-process
// sequence so same-instant signals from one origin stay distinct.
type Classifier struct {
	cfg Config
	seq atomic.Uint64
}

// New creates a classifier with the given thresholds.
func New(cfg Config) *Classifier {
	cfg.normalize()
	return &Classifier{cfg: cfg}
}

// Classify derives direction, confidence, and color from a raw payload.
// A payload without a usable power score falls back to YELLOW with zero
// confidence; the result is still a complete, storable signal.
func (c *Classifier) Classify(raw *models.RawSignal, originClientID string, now time.Time) *models.Signal {
	power, ok := parsePowerScore(raw.PowerScore)

	s := &models.Signal{
		ID:              c.signalID(now, originClientID),
		Symbol:          raw.Symbol,
		PowerScore:      power,
		ConfluenceLevel: raw.ConfluenceLevel,
		MACVUState:      raw.MACVUState,
		Status:          models.StatusActive,
		Source:          "enigma",
		OriginClientID:  originClientID,
		CreatedAt:       now,
	}

	if !ok {
		s.Direction = models.DirectionSell
		s.Confidence = 0
		s.Color = models.ColorYellow
		s.Metadata = map[string]any{"malformed": true}
		if d, valid := parseDirection(raw.Direction); valid {
			s.Direction = d
		}
		return s
	}

	s.Confidence = clamp(float64(power)/c.cfg.ConfidenceDivisor, 0, 1)

	if d, valid := parseDirection(raw.Direction); valid {
		s.Direction = d
	} else if power > c.cfg.BuyThreshold {
		s.Direction = models.DirectionBuy
	} else {
		s.Direction = models.DirectionSell
	}

	if col, valid := parseColor(raw.SignalColor); valid {
		s.Color = col
	} else {
		s.Color = c.band(power)
	}

	return s
}

// band maps a power score onto a color. Both band edges land on YELLOW.
func (c *Classifier) band(power int) models.ColorState {
	switch {
	case power < c.cfg.RedBelow:
		return models.ColorRed
	case power > c.cfg.GreenAbove:
		return models.ColorGreen
	default:
		return models.ColorYellow
	}
}

func (c *Classifier) signalID(now time.Time, originClientID string) string {
	return fmt.Sprintf("ENIGMA_%s_%s_%06d",
		now.UTC().Format("20060102_150405.000000"),
		util.ShortID(originClientID, 8),
		c.seq.Add(1))
}

func parsePowerScore(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

func parseDirection(s string) (models.Direction, bool) {
	switch models.Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case models.DirectionBuy:
		return models.DirectionBuy, true
	case models.DirectionSell:
		return models.DirectionSell, true
	}
	return "", false
}

func parseColor(s string) (models.ColorState, bool) {
	switch c := models.ColorState(strings.ToUpper(strings.TrimSpace(s))); c {
	case models.ColorRed, models.ColorYellow, models.ColorGreen, models.ColorNeutral:
		return c, true
	}
	return "", false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
