// Package validation decides whether a committed time range may be submitted
// and derives the outbound query from it.
package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vjranagit/bouncedash/pkg/types"
)

// Result is the outcome of validating a range selection
type Result int

const (
	Rejected Result = iota
	Accepted
)

// String implements fmt.Stringer
func (r Result) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Validate accepts a range only when both ends are present and no request is
// in flight. Rejections are silent.
func Validate(r types.TimeRange, busy bool) Result {
	if !r.Complete() || busy {
		return Rejected
	}
	return Accepted
}

var structValidator = validator.New()

// ToQuery formats a complete range into a Query.
// start <= end is not enforced here; the remote service owns that rule.
func ToQuery(r types.TimeRange) (types.Query, error) {
	if !r.Complete() {
		return types.Query{}, fmt.Errorf("incomplete time range")
	}

	q := types.Query{
		Start: r.Start.Format(types.QueryTimeLayout),
		End:   r.End.Format(types.QueryTimeLayout),
	}

	if err := structValidator.Struct(q); err != nil {
		return types.Query{}, fmt.Errorf("invalid query: %w", err)
	}

	return q, nil
}
