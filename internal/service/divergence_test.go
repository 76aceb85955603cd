package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
)

func newDivergenceEngine(f *fixture) *DivergenceEngine {
	cfg := config.LearningConfig{
		PriceTolerance:   2,
		SizeTolerancePct: 20,
	}
	cfg.MinOutcomePeriod.Duration = 7 * 24 * time.Hour
	cfg.TimingTolerance.Duration = 24 * time.Hour
	return NewDivergenceEngine(f.positions, f.signals, f.memories, f.index, f.bus, f.gate, nil, cfg, testLogger())
}

func fptr(v float64) *float64 { return &v }

func TestJudge(t *testing.T) {
	cases := []struct {
		name  string
		ai    *float64
		human *float64
		want  domain.Verdict
	}{
		{"no data at all", nil, nil, domain.VerdictNeither},
		{"both profited", fptr(10), fptr(5), domain.VerdictBoth},
		{"both lost equally", fptr(-3), fptr(-3), domain.VerdictNeither},
		{"ai ahead", fptr(10), fptr(-2), domain.VerdictAI},
		{"human ahead", fptr(-5), fptr(8), domain.VerdictHuman},
		{"skipping a loser scores zero", fptr(-12), fptr(0), domain.VerdictHuman},
		{"acting beats sitting out", fptr(15), nil, domain.VerdictAI},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, judge(domain.DivergenceHumanSkipped, tc.ai, tc.human))
		})
	}
}

func TestReviewHumanSkippedCreatesOneMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		time.Hour, f.locks, testLogger())
	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)
	_, err = f.svc.Skip(ctx, sig.ID, "api", "felt toppy")
	require.NoError(t, err)

	// Let the outcome play out: the paper book exits with a profit.
	f.advance(t, 8*24*time.Hour)
	_, err = f.tracker.ClosePaper(ctx, "NVDA", 110)
	require.NoError(t, err)

	created, err := engine.Review(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	memories, err := f.memories.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	mem := memories[0]

	assert.Equal(t, domain.DivergenceHumanSkipped, mem.DivergenceType)
	assert.Equal(t, sig.ID, mem.SignalID)
	assert.Equal(t, domain.VerdictAI, mem.WhoWasRight, "the skipped trade made money")
	assert.Contains(t, mem.HumanAction, "felt toppy")
	assert.Contains(t, mem.Tags, "ticker:NVDA")
	assert.Contains(t, mem.Tags, string(domain.DivergenceHumanSkipped))
	assert.Equal(t, domain.MemorySourceProduction, mem.Source)
	assert.NotEmpty(t, mem.Lesson)
	require.NotNil(t, mem.HumanPnL)
	assert.Zero(t, *mem.HumanPnL, "the side that did not act scores zero")

	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeMemoryCreated))

	// A second pass never records the same divergence twice.
	created, err = engine.Review(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestReviewHumanInitiatedTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	size := 10.0
	_, err := f.svc.ReportTrade(ctx, "TSLA", domain.PositionLong, 100, &size, "api", "conviction buy")
	require.NoError(t, err)
	_, err = f.tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)

	f.advance(t, 8*24*time.Hour)
	_, err = f.svc.ReportClose(ctx, "TSLA", 120, "api")
	require.NoError(t, err)

	created, err := engine.Review(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	memories, err := f.memories.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, domain.DivergenceHumanInitiated, memories[0].DivergenceType)
	assert.Empty(t, memories[0].SignalID)
	assert.Equal(t, domain.VerdictHuman, memories[0].WhoWasRight)

	// The ticker search guards human-initiated duplicates.
	created, err = engine.Review(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestReviewWaitsOutTheOutcomePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		time.Hour, f.locks, testLogger())
	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)
	_, err = f.svc.Skip(ctx, sig.ID, "api", "")
	require.NoError(t, err)

	// Two days in, the divergence is real but unresolved.
	f.advance(t, 2*24*time.Hour)
	created, err := engine.Review(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestReviewClassifiesTimingDivergence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		time.Hour, f.locks, testLogger())
	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	// Same direction, but filled 8% away from the paper entry.
	_, err = f.svc.Confirm(ctx, sig.ID, 108, 10, "api", "chased it")
	require.NoError(t, err)
	_, err = f.tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)

	f.advance(t, 8*24*time.Hour)
	created, err := engine.Review(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	memories, err := f.memories.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, domain.DivergenceTiming, memories[0].DivergenceType)
}

func TestReviewClassifiesSizeModification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	now := f.gate.Now()
	require.NoError(t, f.positions.Put(ctx, domain.Position{
		Ticker:     "NVDA",
		Direction:  domain.PositionLong,
		Size:       fptr(10),
		EntryPrice: 100,
		Status:     domain.PositionStatusMonitoring,
		Portfolio:  domain.PortfolioAI,
		SignalID:   "sig_shared",
		OpenedAt:   now,
	}))
	require.NoError(t, f.positions.Put(ctx, domain.Position{
		Ticker:     "NVDA",
		Direction:  domain.PositionLong,
		Size:       fptr(3),
		EntryPrice: 100,
		Status:     domain.PositionStatusMonitoring,
		Portfolio:  domain.PortfolioHuman,
		SignalID:   "sig_shared",
		OpenedAt:   now,
	}))

	f.advance(t, 8*24*time.Hour)
	created, err := engine.Review(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	memories, err := f.memories.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, domain.DivergenceHumanModified, memories[0].DivergenceType)
}

func TestReviewIgnoresAgreement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)

	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		time.Hour, f.locks, testLogger())
	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	// Human takes the trade at the proposed entry within tolerance.
	_, err = f.svc.Confirm(ctx, sig.ID, 100.5, 10, "api", "")
	require.NoError(t, err)
	_, err = f.tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)

	f.advance(t, 8*24*time.Hour)
	created, err := engine.Review(ctx)
	require.NoError(t, err)
	assert.Zero(t, created, "agreement within tolerance is not a divergence")
}

func TestMarkSimulatedTagsMemorySource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := newDivergenceEngine(f)
	engine.MarkSimulated()

	size := 10.0
	_, err := f.svc.ReportTrade(ctx, "TSLA", domain.PositionLong, 100, &size, "api", "")
	require.NoError(t, err)

	f.advance(t, 8*24*time.Hour)
	created, err := engine.Review(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	memories, err := f.memories.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, domain.MemorySourceSimulation, memories[0].Source)
}
