package ingest

import (
	"fmt"
	"io"
	"strings"

	"hvac_savings/internal/model"
)

// BTUPerKWh converts energy_btu columns to kWh.
const BTUPerKWh = 3412.14

// HVACParser parses HVAC telemetry.
//
// Expected format:
//
//	timestamp,zone_id,setpoint,state,energy_kwh
//	2024-03-04 09:00:00,conf_a,70,heat,2.0
//
// energy_btu may replace energy_kwh.
type HVACParser struct {
	Options Options
}

func (p *HVACParser) Parse(r io.Reader) ([]model.HVACRecord, error) {
	var records []model.HVACRecord
	err := readTable(r, model.HVACSchema, p.Options, func(rw row) error {
		ts, err := rw.timestamp("timestamp", p.Options)
		if err != nil {
			return err
		}
		zone, err := rw.str("zone_id")
		if err != nil {
			return err
		}
		setpoint, err := rw.float("setpoint")
		if err != nil {
			return err
		}
		state, err := rw.str("state")
		if err != nil {
			return err
		}
		mode, err := parseMode(state)
		if err != nil {
			return fmt.Errorf("line %d: %w", rw.lineNum, err)
		}
		energy, err := rw.energy()
		if err != nil {
			return err
		}
		if energy < 0 {
			return fmt.Errorf("line %d: negative energy %g", rw.lineNum, energy)
		}
		records = append(records, model.HVACRecord{
			Timestamp: ts,
			ZoneID:    zone,
			Setpoint:  setpoint,
			Mode:      mode,
			EnergyKWh: energy,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r row) energy() (float64, error) {
	if _, ok := r.idx["energy_kwh"]; ok {
		return r.float("energy_kwh")
	}
	btu, err := r.float("energy_btu")
	if err != nil {
		return 0, err
	}
	return btu / BTUPerKWh, nil
}

func parseMode(s string) (model.HVACMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "false", "0", "idle":
		return model.HVACOff, nil
	case "on", "true", "1":
		return model.HVACOn, nil
	case "heat", "heating":
		return model.HVACHeat, nil
	case "cool", "cooling":
		return model.HVACCool, nil
	case "fan", "fan_only":
		return model.HVACFan, nil
	}
	return "", fmt.Errorf("unknown HVAC state %q", s)
}

// LoadHVAC reads an HVAC telemetry CSV file.
func LoadHVAC(path string, opts Options) ([]model.HVACRecord, error) {
	return loadFile[model.HVACRecord](path, &HVACParser{Options: opts})
}
