package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/vjranagit/bouncedash/pkg/types"
)

// PickerLayout is the display format of the range picker
const PickerLayout = "2006-01-02 15:04"

// Picker mirrors the range picker's rules at the HTTP edge
type Picker struct {
	cutoff   time.Time
	location *time.Location
}

// NewPicker creates a picker that disables every date up to the end of the
// cutoff day
func NewPicker(cutoffDay time.Time, loc *time.Location) *Picker {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := cutoffDay.Date()
	endOfDay := time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc)

	return &Picker{
		cutoff:   endOfDay,
		location: loc,
	}
}

// DisabledDate reports whether t cannot be selected
func (p *Picker) DisabledDate(t time.Time) bool {
	return !t.After(p.cutoff)
}

// ParseValue parses one picker value. An empty string is an absent end.
func (p *Picker) ParseValue(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	t, err := time.ParseInLocation(PickerLayout, s, p.location)
	if err != nil {
		// Accept seconds as well, the query layout is a superset
		t, err = time.ParseInLocation(types.QueryTimeLayout, s, p.location)
		if err != nil {
			return nil, fmt.Errorf("invalid picker value %q: %w", s, err)
		}
	}

	if p.DisabledDate(t) {
		return nil, fmt.Errorf("date %s is not selectable", t.Format(PickerLayout))
	}

	return &t, nil
}

// ParseRange parses a committed start/end pair
func (p *Picker) ParseRange(start, end string) (types.TimeRange, error) {
	s, err := p.ParseValue(start)
	if err != nil {
		return types.TimeRange{}, err
	}
	e, err := p.ParseValue(end)
	if err != nil {
		return types.TimeRange{}, err
	}
	return types.TimeRange{Start: s, End: e}, nil
}
