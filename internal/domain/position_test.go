package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionLifecycleConfirmed(t *testing.T) {
	pos := Position{Ticker: "NVDA", Portfolio: PortfolioHuman, Status: PositionStatusSignaled}

	require.NoError(t, pos.Transition(PositionStatusConfirmed))
	require.NoError(t, pos.Transition(PositionStatusMonitoring))
	require.NoError(t, pos.Transition(PositionStatusExitSignaled))
	require.NoError(t, pos.Transition(PositionStatusClosed))
}

func TestPositionLifecycleAssumed(t *testing.T) {
	pos := Position{Ticker: "NVDA", Portfolio: PortfolioHuman, Status: PositionStatusSignaled}

	require.NoError(t, pos.Transition(PositionStatusAssumed))
	require.NoError(t, pos.Transition(PositionStatusMonitoring))
	require.NoError(t, pos.Transition(PositionStatusClosed))
}

func TestPositionInvalidTransitions(t *testing.T) {
	pos := Position{Ticker: "NVDA", Portfolio: PortfolioHuman, Status: PositionStatusSignaled}
	assert.ErrorIs(t, pos.Transition(PositionStatusClosed), ErrInvalidTransition)
	assert.ErrorIs(t, pos.Transition(PositionStatusExitSignaled), ErrInvalidTransition)

	pos.Status = PositionStatusSkipped
	assert.ErrorIs(t, pos.Transition(PositionStatusMonitoring), ErrInvalidTransition)

	pos.Status = PositionStatusClosed
	assert.ErrorIs(t, pos.Transition(PositionStatusMonitoring), ErrInvalidTransition)
}

func TestPositionOpen(t *testing.T) {
	pos := Position{Status: PositionStatusMonitoring}
	assert.True(t, pos.Open())

	pos.Status = PositionStatusClosed
	assert.False(t, pos.Open())

	pos.Status = PositionStatusSkipped
	assert.False(t, pos.Open())
}

func TestUpdatePnLLong(t *testing.T) {
	size := 10.0
	pos := Position{
		Ticker:     "NVDA",
		Direction:  PositionLong,
		EntryPrice: 100,
		Size:       &size,
	}
	pos.UpdatePnL(110)

	require.NotNil(t, pos.PnL)
	assert.InDelta(t, 100.0, *pos.PnL, 1e-9)
	require.NotNil(t, pos.PnLPercent)
	assert.InDelta(t, 10.0, *pos.PnLPercent, 1e-9)
}

func TestUpdatePnLShort(t *testing.T) {
	pos := Position{
		Ticker:     "TSLA",
		Direction:  PositionShort,
		EntryPrice: 200,
	}
	pos.UpdatePnL(180)

	require.NotNil(t, pos.PnL)
	assert.InDelta(t, 20.0, *pos.PnL, 1e-9)
	require.NotNil(t, pos.PnLPercent)
	assert.InDelta(t, 10.0, *pos.PnLPercent, 1e-9)
}

func TestApplyCloseRealizesPnL(t *testing.T) {
	size := 5.0
	closedAt := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	pos := Position{
		Ticker:     "NVDA",
		Direction:  PositionLong,
		EntryPrice: 100,
		Size:       &size,
	}
	pos.ApplyClose(90, closedAt)

	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, -50.0, *pos.RealizedPnL, 1e-9)
	require.NotNil(t, pos.RealizedPnLPercent)
	assert.InDelta(t, -10.0, *pos.RealizedPnLPercent, 1e-9)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, closedAt, *pos.ClosedAt)
}

func TestMarketValueFallsBackToEntry(t *testing.T) {
	pos := Position{EntryPrice: 50}
	assert.InDelta(t, 50.0, pos.MarketValue(), 1e-9)

	current := 60.0
	pos.CurrentPrice = &current
	assert.InDelta(t, 60.0, pos.MarketValue(), 1e-9)

	size := 3.0
	pos.Size = &size
	assert.InDelta(t, 180.0, pos.MarketValue(), 1e-9)
}

func TestDirectionFromSignal(t *testing.T) {
	assert.Equal(t, PositionLong, DirectionFromSignal(DirectionBuy))
	assert.Equal(t, PositionShort, DirectionFromSignal(DirectionSell))
	assert.Equal(t, PositionLong, DirectionFromSignal(DirectionHold))
}

func TestPortfolioSummaryOpenPosition(t *testing.T) {
	sum := PortfolioSummary{
		PortfolioType: PortfolioAI,
		Positions: []Position{
			{Ticker: "NVDA", Status: PositionStatusClosed},
			{Ticker: "NVDA", Status: PositionStatusMonitoring},
			{Ticker: "TSLA", Status: PositionStatusSkipped},
		},
	}

	open, ok := sum.OpenPosition("NVDA")
	require.True(t, ok)
	assert.Equal(t, PositionStatusMonitoring, open.Status)

	_, ok = sum.OpenPosition("TSLA")
	assert.False(t, ok)
}
