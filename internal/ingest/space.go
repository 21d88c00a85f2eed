package ingest

import (
	"fmt"
	"io"
	"strconv"

	"hvac_savings/internal/model"
)

// SpaceParser parses zone metadata.
//
// Expected format:
//
//	zone_id,room_name,is_external,floor,area_sqft
//	conf_a,Conference A,true,2,450
type SpaceParser struct {
	Options Options
}

func (p *SpaceParser) Parse(r io.Reader) ([]model.Space, error) {
	var spaces []model.Space
	err := readTable(r, model.SpaceSchema, p.Options, func(rw row) error {
		zone, err := rw.str("zone_id")
		if err != nil {
			return err
		}
		name, _ := rw.field("room_name")
		ext, err := rw.str("is_external")
		if err != nil {
			return err
		}
		isExternal, err := parseBool(ext)
		if err != nil {
			return fmt.Errorf("line %d: %w", rw.lineNum, err)
		}
		floorStr, err := rw.str("floor")
		if err != nil {
			return err
		}
		floor, err := strconv.Atoi(floorStr)
		if err != nil {
			return fmt.Errorf("line %d: parsing floor %q: %w", rw.lineNum, floorStr, err)
		}
		area, err := rw.float("area_sqft")
		if err != nil {
			return err
		}
		spaces = append(spaces, model.Space{
			ZoneID:     zone,
			Name:       name,
			IsExternal: isExternal,
			Floor:      floor,
			AreaSqft:   area,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spaces, nil
}

// LoadSpaces reads a space metadata CSV file.
func LoadSpaces(path string, opts Options) ([]model.Space, error) {
	return loadFile[model.Space](path, &SpaceParser{Options: opts})
}
