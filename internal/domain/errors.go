package domain

import (
	"fmt"
	"time"
)

// DataGapError reports a timeline integrity violation: two consecutive bars
// for one symbol are not one resolution interval apart. It is fatal — a gap
// silently bridged would corrupt activation-latency accounting.
type DataGapError struct {
	Symbol   string
	Prev     time.Time
	Next     time.Time
	Expected time.Duration
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s: %s -> %s (expected interval %s)",
		e.Symbol, e.Prev.Format(time.RFC3339), e.Next.Format(time.RFC3339), e.Expected)
}

// InvalidOrderError describes a rejected order submission. The simulated
// broker does not return it from SubmitOrder — it rejects the order and
// attaches the reason, mirroring a live API's asynchronous rejection — but
// it is recorded on the rejection update and usable by live adapters.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "invalid order: " + e.Reason
}

// OrderNotFoundError is returned by cancel or get on an unknown order id.
// It never aborts a run.
type OrderNotFoundError struct {
	ID string
}

func (e *OrderNotFoundError) Error() string {
	return "order not found: " + e.ID
}

// ParameterRangeError reports a malformed replay parameter, grid, or window
// specification. It is fatal and raised before any run starts.
type ParameterRangeError struct {
	Param  string
	Reason string
}

func (e *ParameterRangeError) Error() string {
	return fmt.Sprintf("parameter %s out of range: %s", e.Param, e.Reason)
}
