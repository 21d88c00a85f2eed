// Package preprocess aligns raw zone telemetry onto a common time grid and
// derives the context and features used by forecasting and savings analysis.
package preprocess

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidJoin      = errors.New("invalid join type")
)

// JoinType selects which (zone, interval) keys survive a merge.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinOuter JoinType = "outer"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
)

// ParseJoin validates a join name. Empty means inner.
func ParseJoin(s string) (JoinType, error) {
	switch j := JoinType(strings.ToLower(strings.TrimSpace(s))); j {
	case "":
		return JoinInner, nil
	case JoinInner, JoinOuter, JoinLeft, JoinRight:
		return j, nil
	}
	return "", fmt.Errorf("%w %q: must be one of inner, outer, left, right", ErrInvalidJoin, s)
}

var freqUnits = map[string]time.Duration{
	"s":   time.Second,
	"sec": time.Second,
	"t":   time.Minute,
	"min": time.Minute,
	"h":   time.Hour,
	"d":   24 * time.Hour,
}

// ParseFrequency accepts short frequency aliases ("15min", "15T", "1H", "1D")
// as well as Go duration strings ("15m", "1h30m").
func ParseFrequency(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidFrequency)
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("%w %q", ErrInvalidFrequency, s)
		}
		n = v
	}

	var d time.Duration
	if unit, ok := freqUnits[strings.ToLower(s[i:])]; ok {
		d = time.Duration(n) * unit
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w %q", ErrInvalidFrequency, s)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w %q: must be positive", ErrInvalidFrequency, s)
	}
	return d, nil
}

// floorTime truncates t to a multiple of d in t's wall clock, so daily
// buckets start at local midnight.
func floorTime(t time.Time, d time.Duration) time.Time {
	_, offset := t.Zone()
	shift := time.Duration(offset) * time.Second
	return t.Add(shift).Truncate(d).Add(-shift)
}
