package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	Ticker     string  `json:"ticker"`
	Side       string  `json:"side"`
	OrderID    string  `json:"order_id,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	Shares     float64 `json:"shares"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// OrderRejectedData contains data for OrderRejected events
type OrderRejectedData struct {
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Reason string `json:"reason"`
}

// EventType returns the event type for OrderRejectedData
func (d *OrderRejectedData) EventType() EventType {
	return OrderRejected
}

// SnapshotData contains data for SnapshotTaken events
type SnapshotData struct {
	Cash        float64 `json:"cash"`
	TotalValue  float64 `json:"total_value"`
	DailyReturn float64 `json:"daily_return"`
	Positions   int     `json:"positions"`
}

// EventType returns the event type for SnapshotData
func (d *SnapshotData) EventType() EventType {
	return SnapshotTaken
}

// KillSwitchData contains data for KillSwitchChanged events
type KillSwitchData struct {
	Reason string `json:"reason,omitempty"`
	Active bool   `json:"active"`
}

// EventType returns the event type for KillSwitchData
func (d *KillSwitchData) EventType() EventType {
	return KillSwitchChanged
}

// RunnerStateData contains data for RunnerStateChanged events
type RunnerStateData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EventType returns the event type for RunnerStateData
func (d *RunnerStateData) EventType() EventType {
	return RunnerStateChanged
}

// DailyResetData contains data for DailyReset events
type DailyResetData struct {
	Date           string  `json:"date"`
	PreviousPnL    float64 `json:"previous_pnl"`
	PreviousTrades int     `json:"previous_trades"`
}

// EventType returns the event type for DailyResetData
func (d *DailyResetData) EventType() EventType {
	return DailyReset
}

// QuoteUpdatedData contains data for QuoteUpdated events
type QuoteUpdatedData struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
}

// EventType returns the event type for QuoteUpdatedData
func (d *QuoteUpdatedData) EventType() EventType {
	return QuoteUpdated
}

// RunStatusData contains data for run lifecycle events
type RunStatusData struct {
	RunID  string `json:"run_id"`
	Mode   string `json:"mode"`
	Status string `json:"status"` // "started" or "finished"
	Trades int    `json:"trades,omitempty"`
}

// EventType returns the event type for RunStatusData
// Note: The actual event type is determined by the Status field
func (d *RunStatusData) EventType() EventType {
	if d.Status == "finished" {
		return RunFinished
	}
	return RunStarted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Context map[string]interface{} `json:"context,omitempty"`
	Error   string                 `json:"error"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// Event represents a system event with typed data
// The Data field is a map for wire compatibility and can be converted
// back to EventData via GetTypedData
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
}

// GetTypedData attempts to convert the Data map to typed EventData
// Returns the typed data if conversion is successful, nil otherwise
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case TradeExecuted:
		var data TradeExecutedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case OrderRejected:
		var data OrderRejectedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SnapshotTaken:
		var data SnapshotData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case KillSwitchChanged:
		var data KillSwitchData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case RunnerStateChanged:
		var data RunnerStateData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case DailyReset:
		var data DailyResetData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case QuoteUpdated:
		var data QuoteUpdatedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case RunStarted, RunFinished:
		var data RunStatusData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ErrorOccurred:
		var data ErrorEventData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// ToMap converts typed EventData to map[string]interface{} for emission
func ToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
