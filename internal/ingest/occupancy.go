package ingest

import (
	"fmt"
	"io"

	"hvac_savings/internal/model"
)

// OccupancyParser parses per-zone people counts.
//
// Expected format:
//
//	timestamp,zone_id,occupancy_count
//	2024-03-04 09:00:00,conf_a,3
type OccupancyParser struct {
	Options Options
}

func (p *OccupancyParser) Parse(r io.Reader) ([]model.OccupancyRecord, error) {
	var records []model.OccupancyRecord
	err := readTable(r, model.OccupancySchema, p.Options, func(rw row) error {
		ts, err := rw.timestamp("timestamp", p.Options)
		if err != nil {
			return err
		}
		zone, err := rw.str("zone_id")
		if err != nil {
			return err
		}
		count, err := rw.float("occupancy_count")
		if err != nil {
			return err
		}
		if count < 0 {
			return fmt.Errorf("line %d: negative occupancy_count %g", rw.lineNum, count)
		}
		records = append(records, model.OccupancyRecord{Timestamp: ts, ZoneID: zone, Count: count})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LoadOccupancy reads an occupancy CSV file.
func LoadOccupancy(path string, opts Options) ([]model.OccupancyRecord, error) {
	return loadFile[model.OccupancyRecord](path, &OccupancyParser{Options: opts})
}
