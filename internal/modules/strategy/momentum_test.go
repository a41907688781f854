package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type closesMap map[string][]float64

func (m closesMap) ClosesUpTo(ticker string, date time.Time, limit int) ([]float64, error) {
	closes, ok := m[ticker]
	if !ok {
		return nil, errors.New("no history")
	}
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	return closes, nil
}

func holding(tickers ...string) domain.PortfolioContext {
	positions := make(map[string]domain.Position, len(tickers))
	for _, ticker := range tickers {
		positions[ticker] = domain.Position{Ticker: ticker, Quantity: 1}
	}
	return domain.PortfolioContext{Positions: positions, NumPositions: len(positions)}
}

func newMomentum(t *testing.T, closes ClosesSource, tickers ...string) *MomentumProvider {
	t.Helper()
	p, err := NewMomentumProvider(closes, tickers, 3, 5, 10, testLogger())
	require.NoError(t, err)
	return p
}

func TestMomentum_RisingClosesSignalBuy(t *testing.T) {
	closes := closesMap{"AAPL": {100, 101, 102, 103, 104, 105}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding())
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	dec := decisions[0]
	assert.Equal(t, "AAPL", dec.Ticker)
	assert.Equal(t, domain.ActionBuy, dec.Action)
	assert.Equal(t, 10.0, dec.PositionSizePct)
	assert.Greater(t, dec.Conviction, 0.0)
	assert.LessOrEqual(t, dec.Conviction, 1.0)
	assert.Contains(t, dec.Reasoning, "SMA3")
}

func TestMomentum_NoRebuyWhileHeld(t *testing.T) {
	closes := closesMap{"AAPL": {100, 101, 102, 103, 104, 105}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding("AAPL"))
	require.NoError(t, err)

	assert.Empty(t, decisions)
}

func TestMomentum_FallingClosesSellOnlyWhenHeld(t *testing.T) {
	closes := closesMap{"AAPL": {105, 104, 103, 102, 101, 100}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding("AAPL"))
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionSell, decisions[0].Action)

	decisions, err = p.Decide(time.Now(), holding())
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestMomentum_FlatClosesStaySilent(t *testing.T) {
	closes := closesMap{"AAPL": {100, 100, 100, 100, 100, 100}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding())
	require.NoError(t, err)

	assert.Empty(t, decisions)
}

func TestMomentum_ShortHistoryStaysSilent(t *testing.T) {
	closes := closesMap{"AAPL": {100, 101, 102}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding())
	require.NoError(t, err)

	assert.Empty(t, decisions)
}

func TestMomentum_HistoryErrorSkipsTicker(t *testing.T) {
	closes := closesMap{"MSFT": {100, 101, 102, 103, 104, 105}}
	p := newMomentum(t, closes, "AAPL", "MSFT")

	decisions, err := p.Decide(time.Now(), holding())
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, "MSFT", decisions[0].Ticker)
}

func TestMomentum_ConvictionCapsAtOne(t *testing.T) {
	closes := closesMap{"AAPL": {100, 100, 100, 100, 100, 200}}
	p := newMomentum(t, closes, "AAPL")

	decisions, err := p.Decide(time.Now(), holding())
	require.NoError(t, err)

	require.Len(t, decisions, 1)
	assert.Equal(t, 1.0, decisions[0].Conviction)
}

func TestNewMomentumProvider_ValidatesPeriods(t *testing.T) {
	var verr *domain.ValidationError

	_, err := NewMomentumProvider(closesMap{}, []string{"AAPL"}, 5, 3, 10, testLogger())
	require.ErrorAs(t, err, &verr)

	_, err = NewMomentumProvider(closesMap{}, []string{"AAPL"}, 3, 5, 0, testLogger())
	require.ErrorAs(t, err, &verr)
}
