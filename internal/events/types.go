// Package events provides the in-process event bus used to fan out
// runner activity to the API stream and other observers.
package events

// EventType represents different event types
type EventType string

const (
	TradeExecuted      EventType = "TRADE_EXECUTED"
	OrderRejected      EventType = "ORDER_REJECTED"
	SnapshotTaken      EventType = "SNAPSHOT_TAKEN"
	KillSwitchChanged  EventType = "KILL_SWITCH_CHANGED"
	RunnerStateChanged EventType = "RUNNER_STATE_CHANGED"
	DailyReset         EventType = "DAILY_RESET"
	QuoteUpdated       EventType = "QUOTE_UPDATED"
	RunStarted         EventType = "RUN_STARTED"
	RunFinished        EventType = "RUN_FINISHED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)
