// Package strategy ships the reference decision providers used by the demo
// binary and tests. Decision logic is deliberately external to the engine;
// anything satisfying domain.DecisionProvider plugs into either runner.
package strategy

import (
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// HoldProvider never trades. Useful as a baseline run.
type HoldProvider struct{}

var _ domain.DecisionProvider = HoldProvider{}

// Decide returns no decisions.
func (HoldProvider) Decide(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
	return nil, nil
}

// ScriptedProvider replays a fixed per-date decision script. Dates compare
// by calendar day, ignoring time of day and zone.
type ScriptedProvider struct {
	script map[string][]domain.Decision
}

var _ domain.DecisionProvider = (*ScriptedProvider)(nil)

// NewScriptedProvider creates an empty script.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{script: make(map[string][]domain.Decision)}
}

// On registers decisions for a date. Chainable.
func (p *ScriptedProvider) On(date time.Time, decisions ...domain.Decision) *ScriptedProvider {
	key := date.Format("2006-01-02")
	p.script[key] = append(p.script[key], decisions...)
	return p
}

// Decide returns the decisions registered for ts's calendar day.
func (p *ScriptedProvider) Decide(ts time.Time, pc domain.PortfolioContext) ([]domain.Decision, error) {
	return p.script[ts.Format("2006-01-02")], nil
}
