package live

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// AutoConfirmer approves every order. The default for PAPER and DRY_RUN,
// where no real capital is at risk.
type AutoConfirmer struct{}

var _ domain.Confirmer = AutoConfirmer{}

// Confirm always returns true.
func (AutoConfirmer) Confirm(intent domain.TradeIntent) bool {
	return true
}

// StdinConfirmer prompts a human on the terminal before each live order.
// Anything other than y/yes declines. This is the manual circuit breaker
// between automated decisions and capital at risk.
type StdinConfirmer struct {
	in  io.Reader
	out io.Writer
	log zerolog.Logger
}

var _ domain.Confirmer = (*StdinConfirmer)(nil)

// NewStdinConfirmer creates a confirmer reading from stdin.
func NewStdinConfirmer(log zerolog.Logger) *StdinConfirmer {
	return &StdinConfirmer{
		in:  os.Stdin,
		out: os.Stdout,
		log: log.With().Str("component", "confirmer").Logger(),
	}
}

// Confirm prints the intent and blocks for a yes/no answer. Read failures
// decline: when in doubt, no order.
func (c *StdinConfirmer) Confirm(intent domain.TradeIntent) bool {
	fmt.Fprintf(c.out, "Confirm %s %s %.4f @ %.2f (notional %.2f)? [y/N] ",
		intent.Side, intent.Ticker, intent.Shares, intent.Price, intent.Notional)

	scanner := bufio.NewScanner(c.in)
	if !scanner.Scan() {
		c.log.Warn().Str("ticker", intent.Ticker).Msg("No confirmation input, order declined")
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	confirmed := answer == "y" || answer == "yes"
	c.log.Info().
		Str("ticker", intent.Ticker).
		Str("side", string(intent.Side)).
		Bool("confirmed", confirmed).
		Msg("Confirmation answered")
	return confirmed
}
