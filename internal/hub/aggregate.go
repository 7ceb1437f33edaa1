package hub

import (
	"sync"

	"EnigmaHub/internal/domain/models"
)

// aggregate is the in-memory rollup of every processed signal. It is updated
// under its lock together with each append, so a status read issued after a
// signal was processed always reflects that signal.
type aggregate struct {
	mu sync.RWMutex

	total   int64
	active  int64
	closed  int64
	buy     int64
	sell    int64
	sumConf float64
	sumPow  float64
	byColor map[models.ColorState]int64
	byLevel map[string]int64
}

func newAggregate() *aggregate {
	return &aggregate{
		byColor: make(map[models.ColorState]int64),
		byLevel: make(map[string]int64),
	}
}

// seed initializes the rollup from persisted stats at startup.
func (a *aggregate) seed(stats *models.SignalStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = stats.TotalSignals
	a.active = stats.ActiveSignals
	a.closed = stats.ClosedSignals
	a.buy = stats.BuySignals
	a.sell = stats.SellSignals
	a.sumConf = stats.AvgConfidence * float64(stats.TotalSignals)
	a.sumPow = stats.AvgPowerScore * float64(stats.TotalSignals)
	for k, v := range stats.ByColor {
		a.byColor[k] = v
	}
	for k, v := range stats.ByLevel {
		a.byLevel[k] = v
	}
}

func (a *aggregate) applySignal(s *models.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.active++
	if s.Direction == models.DirectionBuy {
		a.buy++
	} else {
		a.sell++
	}
	a.sumConf += s.Confidence
	a.sumPow += float64(s.PowerScore)
	a.byColor[s.Color]++
	if s.ConfluenceLevel != "" {
		a.byLevel[s.ConfluenceLevel]++
	}
}

func (a *aggregate) applyClose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active > 0 {
		a.active--
	}
	a.closed++
}

func (a *aggregate) snapshot() models.SignalStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stats := models.SignalStats{
		TotalSignals:  a.total,
		ActiveSignals: a.active,
		ClosedSignals: a.closed,
		BuySignals:    a.buy,
		SellSignals:   a.sell,
		ByColor:       make(map[models.ColorState]int64, len(a.byColor)),
		ByLevel:       make(map[string]int64, len(a.byLevel)),
	}
	if a.total > 0 {
		stats.AvgConfidence = a.sumConf / float64(a.total)
		stats.AvgPowerScore = a.sumPow / float64(a.total)
	}
	for k, v := range a.byColor {
		stats.ByColor[k] = v
	}
	for k, v := range a.byLevel {
		stats.ByLevel[k] = v
	}
	return stats
}
