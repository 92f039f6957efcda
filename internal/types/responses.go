package types

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// BlowResult is returned after a manual blow.
type BlowResult struct {
	CandleIndex int  `json:"candle_index"` // Extinguished candle, -1 if none
	Applied     bool `json:"applied"`      // False when no candle was lit
}

// EventsPage is a page of journal events.
type EventsPage struct {
	Events  any  `json:"events"`
	HasMore bool `json:"has_more"`
}
