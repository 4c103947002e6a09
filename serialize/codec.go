// Package serialize defines the explicit wire format for checkpointed
// state (spec §4.12): conversation messages, StepExecution and Plan
// values, with all timestamps as UTC ISO-8601 millisecond strings. Kept
// generic (encoding/json plus a canonical Timestamp type) rather than
// tied to the engine's concrete types, so engine can depend on it
// without a cycle — grounded on gomind/orchestration/workflow_state.go's
// own json.Marshal/Unmarshal checkpoint encoding.
package serialize

import (
	"encoding/json"
	"fmt"
	"time"
)

const millisLayout = "2006-01-02T15:04:05.000Z"

// Timestamp marshals as UTC ISO-8601 with millisecond precision,
// regardless of the time.Time's original location or sub-millisecond
// precision.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	s := time.Time(t).UTC().Format(millisLayout)
	return json.Marshal(s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("serialize: timestamp: %w", err)
	}
	parsed, err := time.Parse(millisLayout, s)
	if err != nil {
		// Tolerate RFC3339Nano for values produced before this codec
		// existed or by other tooling.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("serialize: timestamp: %w", err)
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Time unwraps back to a standard time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t).UTC() }

// Now returns the current instant as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().UTC()) }

// Encode marshals any checkpoint-bound value (WorkflowState,
// StepExecution, Plan, Message, ...) to its canonical JSON wire form.
func Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: encode: %w", err)
	}
	return raw, nil
}

// Decode unmarshals a blob produced by Encode into v.
func Decode(blob []byte, v interface{}) error {
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("serialize: decode: %w", err)
	}
	return nil
}
