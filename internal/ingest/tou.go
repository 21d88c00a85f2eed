package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"hvac_savings/internal/model"
)

// TOUParser parses a time-of-use tariff table.
//
// Expected format:
//
//	time_period,rate_kwh,period_type,days,months
//	14:00-20:00,0.32,peak,weekday,6;7;8;9
//	00:00-24:00,0.11,off_peak,all,
//
// time_period may also be a single hour ("14") or an hour range ("14-20").
// days and months are optional.
type TOUParser struct {
	Options Options
}

func (p *TOUParser) Parse(r io.Reader) ([]model.TOURate, error) {
	var rates []model.TOURate
	err := readTable(r, model.TOUSchema, p.Options, func(rw row) error {
		tp, err := rw.str("time_period")
		if err != nil {
			return err
		}
		start, end, err := parseTimePeriod(tp)
		if err != nil {
			return fmt.Errorf("line %d: %w", rw.lineNum, err)
		}
		rate, err := rw.float("rate_kwh")
		if err != nil {
			return err
		}
		if rate < 0 {
			return fmt.Errorf("line %d: negative rate_kwh %g", rw.lineNum, rate)
		}
		pt, err := rw.str("period_type")
		if err != nil {
			return err
		}
		period, err := parsePeriodType(pt)
		if err != nil {
			return fmt.Errorf("line %d: %w", rw.lineNum, err)
		}

		days := model.DaysAll
		if v, ok := rw.field("days"); ok && v != "" {
			if days, err = parseDaySet(v); err != nil {
				return fmt.Errorf("line %d: %w", rw.lineNum, err)
			}
		}
		var months []time.Month
		if v, ok := rw.field("months"); ok && v != "" {
			if months, err = parseMonths(v); err != nil {
				return fmt.Errorf("line %d: %w", rw.lineNum, err)
			}
		}

		rates = append(rates, model.TOURate{
			StartMinute: start,
			EndMinute:   end,
			RateKWh:     rate,
			Period:      period,
			Days:        days,
			Months:      months,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rates, nil
}

// parseTimePeriod returns [start, end) in minutes after midnight.
func parseTimePeriod(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	before, after, isRange := strings.Cut(s, "-")
	if !isRange {
		h, err := parseClock(s)
		if err != nil {
			return 0, 0, err
		}
		if h >= 24*60 {
			return 0, 0, fmt.Errorf("time_period %q out of range", s)
		}
		return h, h + 60, nil
	}

	start, err := parseClock(before)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(after)
	if err != nil {
		return 0, 0, err
	}
	if start >= 24*60 || end > 24*60 || start == end {
		return 0, 0, fmt.Errorf("time_period %q out of range", s)
	}
	return start, end, nil
}

// parseClock accepts "H", "HH" or "HH:MM".
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, hasMinutes := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	m := 0
	if hasMinutes {
		if m, err = strconv.Atoi(mm); err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid clock time %q", s)
		}
	}
	if h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return h*60 + m, nil
}

func parsePeriodType(s string) (model.PeriodType, error) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "peak", "on_peak":
		return model.PeriodPeak, nil
	case "mid_peak", "midpeak", "shoulder", "partial_peak":
		return model.PeriodMidPeak, nil
	case "off_peak", "offpeak", "super_off_peak":
		return model.PeriodOffPeak, nil
	}
	return "", fmt.Errorf("unknown period_type %q", s)
}

func parseDaySet(s string) (model.DaySet, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "daily", "everyday":
		return model.DaysAll, nil
	case "weekday", "weekdays":
		return model.DaysWeekday, nil
	case "weekend", "weekends":
		return model.DaysWeekend, nil
	}
	return "", fmt.Errorf("unknown days %q", s)
}

func parseMonths(s string) ([]time.Month, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ' ' })
	months := make([]time.Month, 0, len(fields))
	for _, f := range fields {
		m, err := strconv.Atoi(f)
		if err != nil || m < 1 || m > 12 {
			return nil, fmt.Errorf("invalid month %q", f)
		}
		months = append(months, time.Month(m))
	}
	return months, nil
}

// LoadTOU reads a time-of-use tariff CSV file.
func LoadTOU(path string, opts Options) ([]model.TOURate, error) {
	return loadFile[model.TOURate](path, &TOUParser{Options: opts})
}
