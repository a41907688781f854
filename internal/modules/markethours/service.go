// Package markethours gates live trading to the configured session window.
package markethours

import (
	"time"

	"github.com/rs/zerolog"
)

// Service answers "are we inside the trading session right now" for the
// live runner. Hours are whole-hour bounds in the service's location,
// weekends are always closed.
type Service struct {
	loc       *time.Location
	log       zerolog.Logger
	startHour int
	endHour   int
}

// New creates a market hours service. A nil location defaults to the
// process-local timezone.
func New(startHour, endHour int, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		startHour: startHour,
		endHour:   endHour,
		loc:       loc,
		log:       log.With().Str("component", "market_hours").Logger(),
	}
}

// IsWeekday reports whether t falls on a Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingTime reports whether now is a weekday inside [startHour, endHour).
func (s *Service) IsTradingTime(now time.Time) bool {
	local := now.In(s.loc)
	if !IsWeekday(local) {
		return false
	}
	h := local.Hour()
	return h >= s.startHour && h < s.endHour
}

// NextOpen returns the next session open at or after now. Inside an open
// session it returns now itself.
func (s *Service) NextOpen(now time.Time) time.Time {
	local := now.In(s.loc)
	if s.IsTradingTime(local) {
		return local
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), s.startHour, 0, 0, 0, s.loc)
	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	for !IsWeekday(open) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// Window returns the configured session bounds.
func (s *Service) Window() (startHour, endHour int) {
	return s.startHour, s.endHour
}
