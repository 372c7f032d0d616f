// Package recurrence implements the recurrence rule codec, occurrence
// expansion and series splitting used by the schedule service.
//
// The rule text format is the RFC 5545 RRULE subset FREQ, INTERVAL, COUNT,
// UNTIL, BYDAY, BYMONTHDAY, BYMONTH, BYYEARDAY, BYWEEKNO, BYHOUR, BYMINUTE,
// BYSECOND and WKST. BYSETPOS and sub-daily frequencies are not supported.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is how often a series repeats.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Weekday is a two-letter RFC 5545 weekday token.
type Weekday string

const (
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
	Sunday    Weekday = "SU"
)

// weekdayIndex maps tokens to Monday-based indexes (MO=0 .. SU=6).
var weekdayIndex = map[Weekday]int{
	Monday: 0, Tuesday: 1, Wednesday: 2, Thursday: 3,
	Friday: 4, Saturday: 5, Sunday: 6,
}

// untilLayout is the basic iCalendar UTC date-time form for UNTIL.
const untilLayout = "20060102T150405Z"

// Rule describes a recurrence pattern. A Rule is owned by exactly one
// recurring entity. Count and Until are mutually exclusive; Count == 0 and
// Until == nil both mean "unset".
type Rule struct {
	Frequency  Frequency
	Interval   int
	Count      int
	Until      *time.Time
	ByDay      []Weekday
	ByMonthDay []int
	ByMonth    []int
	ByYearDay  []int
	ByWeekNo   []int
	ByHour     []int
	ByMinute   []int
	BySecond   []int
	WeekStart  Weekday
}

// ValidationError reports an invalid rule field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("recurrence rule %s: %s", e.Field, e.Reason)
}

// Parse decodes an RRULE string into a Rule. The "RRULE:" prefix is optional.
// Unknown keys are ignored. A missing INTERVAL defaults to 1 and a malformed
// UNTIL value is left unset. Malformed integer list values are an error.
// Parse does not run Validate; callers that accept untrusted rules should.
func Parse(text string) (*Rule, error) {
	text = strings.TrimPrefix(text, "RRULE:")

	rule := &Rule{Interval: 1, WeekStart: Monday}

	for _, part := range strings.Split(text, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			continue
		}

		switch strings.ToUpper(key) {
		case "FREQ":
			rule.Frequency = Frequency(value)
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ValidationError{Field: "INTERVAL", Reason: "must be an integer"}
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ValidationError{Field: "COUNT", Reason: "must be an integer"}
			}
			rule.Count = n
		case "UNTIL":
			// A malformed UNTIL is dropped rather than rejected.
			if t, err := time.Parse(untilLayout, value); err == nil {
				t = t.UTC()
				rule.Until = &t
			}
		case "BYDAY":
			for _, token := range splitList(value) {
				rule.ByDay = append(rule.ByDay, Weekday(token))
			}
		case "BYMONTHDAY":
			list, err := parseIntList("BYMONTHDAY", value)
			if err != nil {
				return nil, err
			}
			rule.ByMonthDay = list
		case "BYMONTH":
			list, err := parseIntList("BYMONTH", value)
			if err != nil {
				return nil, err
			}
			rule.ByMonth = list
		case "BYYEARDAY":
			list, err := parseIntList("BYYEARDAY", value)
			if err != nil {
				return nil, err
			}
			rule.ByYearDay = list
		case "BYWEEKNO":
			list, err := parseIntList("BYWEEKNO", value)
			if err != nil {
				return nil, err
			}
			rule.ByWeekNo = list
		case "BYHOUR":
			list, err := parseIntList("BYHOUR", value)
			if err != nil {
				return nil, err
			}
			rule.ByHour = list
		case "BYMINUTE":
			list, err := parseIntList("BYMINUTE", value)
			if err != nil {
				return nil, err
			}
			rule.ByMinute = list
		case "BYSECOND":
			list, err := parseIntList("BYSECOND", value)
			if err != nil {
				return nil, err
			}
			rule.BySecond = list
		case "WKST":
			rule.WeekStart = Weekday(value)
		}
	}

	return rule, nil
}

// String encodes the rule in the fixed field order FREQ, INTERVAL, COUNT,
// UNTIL, BYDAY, BYMONTHDAY, BYMONTH, BYYEARDAY, BYWEEKNO, BYHOUR, BYMINUTE,
// BYSECOND, WKST. Parse(r.String()) reproduces every field r sets.
func (r *Rule) String() string {
	parts := []string{"FREQ=" + string(r.Frequency)}

	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(untilLayout))
	}
	if len(r.ByDay) > 0 {
		tokens := make([]string, len(r.ByDay))
		for i, day := range r.ByDay {
			tokens[i] = string(day)
		}
		parts = append(parts, "BYDAY="+strings.Join(tokens, ","))
	}
	if len(r.ByMonthDay) > 0 {
		parts = append(parts, "BYMONTHDAY="+joinIntList(r.ByMonthDay))
	}
	if len(r.ByMonth) > 0 {
		parts = append(parts, "BYMONTH="+joinIntList(r.ByMonth))
	}
	if len(r.ByYearDay) > 0 {
		parts = append(parts, "BYYEARDAY="+joinIntList(r.ByYearDay))
	}
	if len(r.ByWeekNo) > 0 {
		parts = append(parts, "BYWEEKNO="+joinIntList(r.ByWeekNo))
	}
	if len(r.ByHour) > 0 {
		parts = append(parts, "BYHOUR="+joinIntList(r.ByHour))
	}
	if len(r.ByMinute) > 0 {
		parts = append(parts, "BYMINUTE="+joinIntList(r.ByMinute))
	}
	if len(r.BySecond) > 0 {
		parts = append(parts, "BYSECOND="+joinIntList(r.BySecond))
	}
	if r.WeekStart != "" && r.WeekStart != Monday {
		parts = append(parts, "WKST="+string(r.WeekStart))
	}

	return strings.Join(parts, ";")
}

// Validate checks the rule invariants and returns a *ValidationError naming
// the offending field on failure.
func (r *Rule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return &ValidationError{Field: "FREQ", Reason: fmt.Sprintf("unsupported frequency %q", string(r.Frequency))}
	}

	if r.Interval < 1 {
		return &ValidationError{Field: "INTERVAL", Reason: "must be at least 1"}
	}
	if r.Count < 0 {
		return &ValidationError{Field: "COUNT", Reason: "must be positive"}
	}
	if r.Count > 0 && r.Until != nil {
		return &ValidationError{Field: "COUNT", Reason: "cannot be combined with UNTIL"}
	}

	for _, day := range r.ByDay {
		if _, ok := weekdayIndex[day]; !ok {
			return &ValidationError{Field: "BYDAY", Reason: fmt.Sprintf("invalid weekday token %q", string(day))}
		}
	}
	if err := checkRange("BYMONTHDAY", r.ByMonthDay, 1, 31, true); err != nil {
		return err
	}
	if err := checkRange("BYMONTH", r.ByMonth, 1, 12, false); err != nil {
		return err
	}
	if err := checkRange("BYYEARDAY", r.ByYearDay, 1, 366, true); err != nil {
		return err
	}
	if err := checkRange("BYWEEKNO", r.ByWeekNo, 1, 53, true); err != nil {
		return err
	}
	if err := checkRange("BYHOUR", r.ByHour, 0, 23, false); err != nil {
		return err
	}
	if err := checkRange("BYMINUTE", r.ByMinute, 0, 59, false); err != nil {
		return err
	}
	if err := checkRange("BYSECOND", r.BySecond, 0, 59, false); err != nil {
		return err
	}

	if r.WeekStart != "" {
		if _, ok := weekdayIndex[r.WeekStart]; !ok {
			return &ValidationError{Field: "WKST", Reason: fmt.Sprintf("invalid weekday token %q", string(r.WeekStart))}
		}
	}

	return nil
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	clone := *r
	if r.Until != nil {
		until := *r.Until
		clone.Until = &until
	}
	clone.ByDay = append([]Weekday(nil), r.ByDay...)
	clone.ByMonthDay = append([]int(nil), r.ByMonthDay...)
	clone.ByMonth = append([]int(nil), r.ByMonth...)
	clone.ByYearDay = append([]int(nil), r.ByYearDay...)
	clone.ByWeekNo = append([]int(nil), r.ByWeekNo...)
	clone.ByHour = append([]int(nil), r.ByHour...)
	clone.ByMinute = append([]int(nil), r.ByMinute...)
	clone.BySecond = append([]int(nil), r.BySecond...)
	return &clone
}

func splitList(value string) []string {
	var out []string
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func parseIntList(field, value string) ([]int, error) {
	var out []int
	for _, token := range splitList(value) {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("malformed integer %q", token)}
		}
		out = append(out, n)
	}
	return out, nil
}

func joinIntList(values []int) string {
	tokens := make([]string, len(values))
	for i, v := range values {
		tokens[i] = strconv.Itoa(v)
	}
	return strings.Join(tokens, ",")
}

// checkRange validates that every value lies in [min,max] (or [-max,-min]
// when signed values are allowed); zero is never valid for signed ranges.
func checkRange(field string, values []int, min, max int, signed bool) error {
	for _, v := range values {
		ok := v >= min && v <= max
		if signed {
			ok = ok || (v <= -min && v >= -max)
		}
		if !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("value %d out of range", v)}
		}
	}
	return nil
}
