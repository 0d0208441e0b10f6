package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueState tags how a report field was obtained.
type ValueState uint8

const (
	// ValueAbsent means the transport did not report the field.
	ValueAbsent ValueState = iota
	// ValuePresent is a finite, usable number.
	ValuePresent
	// ValueIndeterminate carries a non-finite result of a degenerate window
	// (zero or unknown interval). The IEEE number is kept in Number.
	ValueIndeterminate
)

func (s ValueState) String() string {
	switch s {
	case ValueAbsent:
		return "absent"
	case ValuePresent:
		return "present"
	case ValueIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Value is a report field that keeps absence distinct from zero.
type Value struct {
	Number float64
	State  ValueState
}

// Absent returns a field that was not reported.
func Absent() Value {
	return Value{State: ValueAbsent}
}

// Present returns a reported number. Non-finite input is tagged indeterminate.
func Present(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{Number: v, State: ValueIndeterminate}
	}
	return Value{Number: v, State: ValuePresent}
}

// IsAbsent reports whether the field was missing.
func (v Value) IsAbsent() bool { return v.State == ValueAbsent }

// IsIndeterminate reports whether the field is a non-finite window result.
func (v Value) IsIndeterminate() bool { return v.State == ValueIndeterminate }

// Float64 returns the number and whether it is a finite, present value.
func (v Value) Float64() (float64, bool) {
	return v.Number, v.State == ValuePresent
}

// Sub returns v - other. Absent on either side yields absent.
func (v Value) Sub(other Value) Value {
	if v.IsAbsent() || other.IsAbsent() {
		return Absent()
	}
	return Present(v.Number - other.Number)
}

// Div returns v / d. Division by zero yields an indeterminate value.
func (v Value) Div(d Value) Value {
	if v.IsAbsent() || d.IsAbsent() {
		return Absent()
	}
	return Present(v.Number / d.Number)
}

func (v Value) String() string {
	switch v.State {
	case ValueAbsent:
		return "absent"
	default:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
}

// MarshalJSON encodes absent as null, present as a number and indeterminate
// values as the strings "NaN", "+Inf" or "-Inf".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.State {
	case ValueAbsent:
		return []byte("null"), nil
	case ValueIndeterminate:
		return json.Marshal(strconv.FormatFloat(v.Number, 'g', -1, 64))
	default:
		return json.Marshal(v.Number)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Absent()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid indeterminate value %q: %w", s, err)
		}
		*v = Value{Number: f, State: ValueIndeterminate}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Present(f)
	return nil
}
