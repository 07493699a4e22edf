package types

import (
	"fmt"
	"time"
)

// QueryTimeLayout is the wire format of Query bounds
const QueryTimeLayout = "2006-01-02 15:04:05"

// TimeRange is a range committed by the picker. Either end may be nil.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// NewTimeRange creates a complete time range
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: &start, End: &end}
}

// Complete reports whether both ends are present
func (r TimeRange) Complete() bool {
	return r.Start != nil && r.End != nil
}

// Query is the outbound query derived from a complete TimeRange
type Query struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02 15:04:05"`
	End   string `json:"end" validate:"required,datetime=2006-01-02 15:04:05"`
}

// SeriesPair holds the observed and predicted series for one query.
// All three slices share the same length.
type SeriesPair struct {
	Timestamps      []string  `json:"timestamps" msgpack:"timestamps"`
	TrueValues      []float64 `json:"true_values" msgpack:"true_values"`
	PredictedValues []float64 `json:"predicted_values" msgpack:"predicted_values"`
}

// Len returns the number of time buckets
func (p *SeriesPair) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Timestamps)
}

// Metrics holds the derived summary percentages
type Metrics struct {
	AdequacyRate float64 `json:"adequacy_rate" msgpack:"adequacy_rate"`
	SavingsRate  float64 `json:"savings_rate" msgpack:"savings_rate"`
}

// ChartSeries holds the two plotted series
type ChartSeries struct {
	True      []float64 `json:"true" msgpack:"true"`
	Predicted []float64 `json:"predicted" msgpack:"predicted"`
}

// ChartDescription is a renderer-agnostic chart
type ChartDescription struct {
	Categories []string    `json:"categories" msgpack:"categories"`
	Series     ChartSeries `json:"series" msgpack:"series"`
}

// Snapshot is the unit published after a successful fetch
type Snapshot struct {
	Metrics   Metrics           `json:"metrics"`
	Chart     *ChartDescription `json:"chart"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RequestState is the controller's request lifecycle state
type RequestState int

const (
	StateIdle RequestState = iota
	StatePending
	StateSucceeded
	StateFailed
)

// String implements fmt.Stringer
func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON
func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *RequestState) UnmarshalText(text []byte) error {
	for _, st := range []RequestState{StateIdle, StatePending, StateSucceeded, StateFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown request state %q", text)
}

// NotificationKind is the toast type shown to the operator
type NotificationKind string

const (
	NotificationNone    NotificationKind = "none"
	NotificationLoading NotificationKind = "loading"
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
)

// Notification is the toast state for the external banner component
type Notification struct {
	Key  string           `json:"key"`
	Kind NotificationKind `json:"kind"`
	Text string           `json:"text"`
}
