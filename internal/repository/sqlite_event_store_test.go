package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/domain/repository"
	pkgsqlite "EnigmaHub/pkg/sqlite"
)

func newTestStore(t *testing.T) repository.EventStore {
	t.Helper()
	client, err := pkgsqlite.NewClient(
		pkgsqlite.WithPath(filepath.Join(t.TempDir(), "test.db")),
	)
	if err != nil {
		t.Fatalf("sqlite client: %v", err)
	}
	store := NewSQLiteEventStore(client.DB())
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSignal(id string, dir models.Direction, power int) *models.Signal {
	return &models.Signal{
		ID:              id,
		Symbol:          "NQ",
		Direction:       dir,
		Confidence:      float64(power) / 100,
		PowerScore:      power,
		ConfluenceLevel: "L3",
		Color:           models.ColorGreen,
		MACVUState:      "BULLISH",
		Status:          models.StatusActive,
		OriginClientID:  "client-1",
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]any{"session": "RTH"},
	}
}

func TestAppendAndGetSignal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := testSignal("ENIGMA_20250314_150926_abcdef12", models.DirectionBuy, 85)
	if err := store.AppendSignal(ctx, want); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetSignal(ctx, want.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected signal, got nil")
	}
	if got.Direction != models.DirectionBuy {
		t.Errorf("direction = %s, want BUY", got.Direction)
	}
	if got.PowerScore != 85 {
		t.Errorf("power_score = %d, want 85", got.PowerScore)
	}
	if got.Color != models.ColorGreen {
		t.Errorf("color = %s, want GREEN", got.Color)
	}
	if got.Status != models.StatusActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}
	if got.Metadata["session"] != "RTH" {
		t.Errorf("metadata = %v, want session=RTH", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not round-tripped")
	}
}

func TestGetSignalMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSignal(context.Background(), "ENIGMA_missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown signal, got %+v", got)
	}
}

func TestAppendSignalUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sig := testSignal("ENIGMA_20250314_150926_aaaa1111", models.DirectionBuy, 60)
	if err := store.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("append: %v", err)
	}

	sig.Status = models.StatusClosed
	if err := store.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("second append: %v", err)
	}

	got, err := store.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusClosed {
		t.Errorf("status = %s, want CLOSED after upsert", got.Status)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSignals != 1 {
		t.Errorf("total = %d, want 1 (replace, not duplicate)", stats.TotalSignals)
	}
}

func TestMarkSignalClosed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sig := testSignal("ENIGMA_20250314_150926_bbbb2222", models.DirectionSell, 20)
	if err := store.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("append: %v", err)
	}

	price := 18542.25
	exitAt := time.Now().UTC()
	closed, err := store.MarkSignalClosed(ctx, sig.ID, exitAt, &price)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatal("expected close to affect the active signal")
	}

	got, err := store.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusClosed {
		t.Errorf("status = %s, want CLOSED", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != price {
		t.Errorf("exit_price = %v, want %v", got.ExitPrice, price)
	}
	if got.ExitTime == nil {
		t.Error("exit_time not recorded")
	}

	// Second close is a no-op.
	closed, err = store.MarkSignalClosed(ctx, sig.ID, exitAt, nil)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closed {
		t.Error("closing an already closed signal should report false")
	}
}

func TestMarkSignalClosedUnknown(t *testing.T) {
	store := newTestStore(t)

	closed, err := store.MarkSignalClosed(context.Background(), "ENIGMA_nope", time.Now(), nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed {
		t.Error("unknown signal should not report closed")
	}
}

func TestRecentSignalsOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sig := testSignal("ENIGMA_sig_"+string(rune('a'+i)), models.DirectionBuy, 50+i)
		sig.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.AppendSignal(ctx, sig); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := store.RecentSignals(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "ENIGMA_sig_e" {
		t.Errorf("first = %s, want newest (ENIGMA_sig_e)", got[0].ID)
	}
	if !got[0].CreatedAt.After(got[2].CreatedAt) {
		t.Error("results not in newest-first order")
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	buy := testSignal("ENIGMA_stats_buy", models.DirectionBuy, 80)
	sell := testSignal("ENIGMA_stats_sell", models.DirectionSell, 20)
	sell.Color = models.ColorRed
	sell.ConfluenceLevel = "L1"
	for _, sig := range []*models.Signal{buy, sell} {
		if err := store.AppendSignal(ctx, sig); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := store.MarkSignalClosed(ctx, sell.ID, time.Now(), nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSignals != 2 {
		t.Errorf("total = %d, want 2", stats.TotalSignals)
	}
	if stats.ActiveSignals != 1 || stats.ClosedSignals != 1 {
		t.Errorf("active/closed = %d/%d, want 1/1", stats.ActiveSignals, stats.ClosedSignals)
	}
	if stats.BuySignals != 1 || stats.SellSignals != 1 {
		t.Errorf("buy/sell = %d/%d, want 1/1", stats.BuySignals, stats.SellSignals)
	}
	if stats.ByColor[models.ColorGreen] != 1 || stats.ByColor[models.ColorRed] != 1 {
		t.Errorf("by color = %v", stats.ByColor)
	}
	if stats.ByLevel["L3"] != 1 || stats.ByLevel["L1"] != 1 {
		t.Errorf("by level = %v", stats.ByLevel)
	}
}

func TestAuditTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendRawMessage(ctx, "client-1", "heartbeat", []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("raw message: %v", err)
	}
	if err := store.AppendMetric(ctx, "last_price", 18500.5, map[string]string{"symbol": "NQ"}); err != nil {
		t.Fatalf("metric: %v", err)
	}
	info := &models.ConnectionInfo{ID: "conn-1", Role: models.RoleDashboard, RemoteAddr: "127.0.0.1:1234"}
	if err := store.AppendConnectionEvent(ctx, info, "connected"); err != nil {
		t.Fatalf("connection event: %v", err)
	}
	if err := store.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}
