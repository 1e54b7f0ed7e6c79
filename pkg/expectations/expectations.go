// Package expectations implements declarative column-level validation rules
// that are evaluated against a batch of rows before it is written to a
// feature group. Expectation and kwarg names follow Great Expectations so
// suites stored by other tools read the same way.
package expectations

import (
	"fmt"
	"math"
)

// Type names a kind of expectation
type Type string

const (
	ExpectColumnMinToBeBetween    Type = "expect_column_min_to_be_between"
	ExpectColumnMaxToBeBetween    Type = "expect_column_max_to_be_between"
	ExpectColumnValuesToBeBetween Type = "expect_column_values_to_be_between"
	ExpectColumnValuesToNotBeNull Type = "expect_column_values_to_not_be_null"
)

// Kwargs are the arguments of an expectation. A nil bound is open.
type Kwargs struct {
	Column    string   `json:"column"`
	MinValue  *float64 `json:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty"`
	StrictMin bool     `json:"strict_min,omitempty"`
	StrictMax bool     `json:"strict_max,omitempty"`
}

// Expectation is a single validation rule
type Expectation struct {
	Type   Type   `json:"expectation_type"`
	Kwargs Kwargs `json:"kwargs"`
}

func (e Expectation) String() string {
	return fmt.Sprintf("%s(%s%s)", e.Type, e.Kwargs.Column, e.Kwargs.bounds())
}

func (k Kwargs) bounds() string {
	if k.MinValue == nil && k.MaxValue == nil {
		return ""
	}
	lo, hi := "[", "]"
	if k.StrictMin {
		lo = "("
	}
	if k.StrictMax {
		hi = ")"
	}
	min, max := "-inf", "+inf"
	if k.MinValue != nil {
		min = fmt.Sprint(*k.MinValue)
	}
	if k.MaxValue != nil {
		max = fmt.Sprint(*k.MaxValue)
	}
	return fmt.Sprintf(" in %s%s, %s%s", lo, min, max, hi)
}

// Suite is a named set of expectations
type Suite struct {
	Name         string        `json:"expectation_suite_name"`
	Expectations []Expectation `json:"expectations"`
}

// NewSuite creates an empty suite
func NewSuite(name string) *Suite {
	return &Suite{Name: name}
}

// AddExpectation appends e to the suite
func (s *Suite) AddExpectation(e Expectation) *Suite {
	s.Expectations = append(s.Expectations, e)
	return s
}

// MinBetween builds an expect_column_min_to_be_between rule
func MinBetween(column string, min, max float64, strictMin bool) Expectation {
	return Expectation{
		Type:   ExpectColumnMinToBeBetween,
		Kwargs: Kwargs{Column: column, MinValue: &min, MaxValue: &max, StrictMin: strictMin},
	}
}

// MaxBetween builds an expect_column_max_to_be_between rule
func MaxBetween(column string, min, max float64, strictMin bool) Expectation {
	return Expectation{
		Type:   ExpectColumnMaxToBeBetween,
		Kwargs: Kwargs{Column: column, MinValue: &min, MaxValue: &max, StrictMin: strictMin},
	}
}

// ValuesBetween builds an expect_column_values_to_be_between rule
func ValuesBetween(column string, min, max float64, strictMin bool) Expectation {
	return Expectation{
		Type:   ExpectColumnValuesToBeBetween,
		Kwargs: Kwargs{Column: column, MinValue: &min, MaxValue: &max, StrictMin: strictMin},
	}
}

// NotNull builds an expect_column_values_to_not_be_null rule
func NotNull(column string) Expectation {
	return Expectation{
		Type:   ExpectColumnValuesToNotBeNull,
		Kwargs: Kwargs{Column: column},
	}
}

// Table gives the validator access to numeric columns. Missing values are
// NaN. ok is false when the column does not exist.
type Table interface {
	Column(name string) (values []float64, ok bool)
}

// Columns is a Table backed by a map
type Columns map[string][]float64

func (c Columns) Column(name string) ([]float64, bool) {
	v, ok := c[name]
	return v, ok
}

// Result is the outcome of one expectation
type Result struct {
	Expectation     Expectation `json:"expectation_config"`
	Success         bool        `json:"success"`
	ObservedValue   *float64    `json:"observed_value,omitempty"`
	ElementCount    int         `json:"element_count"`
	UnexpectedCount int         `json:"unexpected_count"`
	Exception       string      `json:"exception_message,omitempty"`
}

// Report is the outcome of a whole suite
type Report struct {
	Suite                  string   `json:"expectation_suite_name"`
	Success                bool     `json:"success"`
	EvaluatedExpectations  int      `json:"evaluated_expectations"`
	SuccessfulExpectations int      `json:"successful_expectations"`
	Results                []Result `json:"results"`
}

// Failed returns the results that did not succeed
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Success {
			failed = append(failed, res)
		}
	}
	return failed
}

// Validate evaluates every expectation of suite against table
func Validate(suite *Suite, table Table) Report {
	report := Report{Suite: suite.Name, Success: true}

	for _, e := range suite.Expectations {
		res := evaluate(e, table)
		report.Results = append(report.Results, res)
		report.EvaluatedExpectations++
		if res.Success {
			report.SuccessfulExpectations++
		} else {
			report.Success = false
		}
	}

	return report
}

func evaluate(e Expectation, table Table) Result {
	res := Result{Expectation: e}

	values, ok := table.Column(e.Kwargs.Column)
	if !ok {
		res.Exception = fmt.Sprintf("column %q does not exist", e.Kwargs.Column)
		return res
	}
	res.ElementCount = len(values)

	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}

	switch e.Type {
	case ExpectColumnMinToBeBetween, ExpectColumnMaxToBeBetween:
		if len(present) == 0 {
			// Nothing to aggregate; an empty batch passes
			res.Success = true
			return res
		}
		observed := present[0]
		for _, v := range present[1:] {
			if e.Type == ExpectColumnMinToBeBetween {
				observed = math.Min(observed, v)
			} else {
				observed = math.Max(observed, v)
			}
		}
		res.ObservedValue = &observed
		res.Success = e.Kwargs.contains(observed)
		if !res.Success {
			res.UnexpectedCount = 1
		}

	case ExpectColumnValuesToBeBetween:
		for _, v := range present {
			if !e.Kwargs.contains(v) {
				res.UnexpectedCount++
			}
		}
		res.Success = res.UnexpectedCount == 0

	case ExpectColumnValuesToNotBeNull:
		res.UnexpectedCount = len(values) - len(present)
		res.Success = res.UnexpectedCount == 0

	default:
		res.Exception = fmt.Sprintf("unknown expectation type %q", e.Type)
	}

	return res
}

func (k Kwargs) contains(v float64) bool {
	if k.MinValue != nil {
		if k.StrictMin && v <= *k.MinValue {
			return false
		}
		if !k.StrictMin && v < *k.MinValue {
			return false
		}
	}
	if k.MaxValue != nil {
		if k.StrictMax && v >= *k.MaxValue {
			return false
		}
		if !k.StrictMax && v > *k.MaxValue {
			return false
		}
	}
	return true
}
