package domain

import (
	"errors"
	"fmt"
	"math"
)

// Unit of an estimate
type Unit string

const (
	UnitDays  Unit = "days"
	UnitWeeks Unit = "weeks"
)

// Valid reports whether u is a known unit
func (u Unit) Valid() bool {
	return u == UnitDays || u == UnitWeeks
}

// Vote is one participant's estimate for the current issue
type Vote struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// VotePolicy bounds and quantizes vote values.
// Normalize returns the vote as it will be stored, or an error whose message
// is safe to show to the voter.
type VotePolicy interface {
	Normalize(v Vote) (Vote, error)
	Name() string
}

// IntegerPolicy accepts whole numbers from 0 to Max in either unit
type IntegerPolicy struct {
	Max float64
}

// DefaultIntegerPolicy caps estimates at 999
func DefaultIntegerPolicy() IntegerPolicy {
	return IntegerPolicy{Max: 999}
}

func (p IntegerPolicy) Name() string { return "integer" }

// Normalize implements VotePolicy
func (p IntegerPolicy) Normalize(v Vote) (Vote, error) {
	v, err := checkCommon(v)
	if err != nil {
		return Vote{}, err
	}
	if v.Value != math.Trunc(v.Value) {
		return Vote{}, errors.New("Value must be a whole number")
	}
	if v.Value > p.Max {
		return Vote{}, fmt.Errorf("Value must be %g or less", p.Max)
	}
	return v, nil
}

// QuantizedPolicy rounds days to quarter steps (min 0.5) and weeks to whole
// numbers (min 1), each with its own cap.
type QuantizedPolicy struct {
	MaxDays  float64
	MaxWeeks float64
}

const (
	dayStep  = 0.25
	minDays  = 0.5
	weekStep = 1
	minWeeks = 1
)

// DefaultQuantizedPolicy caps days at 60 and weeks at 12
func DefaultQuantizedPolicy() QuantizedPolicy {
	return QuantizedPolicy{MaxDays: 60, MaxWeeks: 12}
}

func (p QuantizedPolicy) Name() string { return "quantized" }

// Normalize implements VotePolicy
func (p QuantizedPolicy) Normalize(v Vote) (Vote, error) {
	v, err := checkCommon(v)
	if err != nil {
		return Vote{}, err
	}

	step, lo, hi := dayStep, minDays, p.MaxDays
	if v.Unit == UnitWeeks {
		step, lo, hi = weekStep, minWeeks, p.MaxWeeks
	}

	v.Value = math.Round(v.Value/step) * step
	if v.Value < lo {
		return Vote{}, fmt.Errorf("Minimum is %g %s", lo, v.Unit)
	}
	if v.Value > hi {
		return Vote{}, fmt.Errorf("Maximum is %g %s", hi, v.Unit)
	}
	return v, nil
}

// checkCommon applies the rules every policy shares and defaults the unit
func checkCommon(v Vote) (Vote, error) {
	if v.Unit == "" {
		v.Unit = UnitDays
	}
	if !v.Unit.Valid() {
		return Vote{}, errors.New("Unit must be days or weeks")
	}
	if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
		return Vote{}, errors.New("Value must be a number")
	}
	if v.Value < 0 {
		return Vote{}, errors.New("Value must not be negative")
	}
	return v, nil
}

// PolicyByName resolves a configured policy name
func PolicyByName(name string, maxDays, maxWeeks float64) (VotePolicy, error) {
	switch name {
	case "", "integer":
		return DefaultIntegerPolicy(), nil
	case "quantized":
		p := DefaultQuantizedPolicy()
		if maxDays > 0 {
			p.MaxDays = maxDays
		}
		if maxWeeks > 0 {
			p.MaxWeeks = maxWeeks
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown vote policy %q", name)
	}
}
