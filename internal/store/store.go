package store

import (
	"sort"
	"sync"
	"time"

	"hvac_savings/internal/forecast"
	"hvac_savings/internal/model"
)

// Store holds occupancy observations in memory, indexed by zone ID.
type Store struct {
	mu        sync.RWMutex
	spaces    map[string]model.Space
	occupancy map[string][]model.OccupancyRecord // keyed by zone ID, sorted by timestamp
}

func New() *Store {
	return &Store{
		spaces:    make(map[string]model.Space),
		occupancy: make(map[string][]model.OccupancyRecord),
	}
}

// AddSpaces registers zone metadata, replacing earlier entries for the same zone.
func (s *Store) AddSpaces(spaces []model.Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range spaces {
		s.spaces[sp.ZoneID] = sp
	}
}

// Space returns the metadata for a zone.
func (s *Store) Space(zoneID string) (model.Space, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[zoneID]
	return sp, ok
}

// AddOccupancy adds observations, then sorts each affected zone by timestamp.
// An observation at a timestamp the zone already has replaces the old one.
func (s *Store) AddOccupancy(records []model.OccupancyRecord) {
	if len(records) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, r := range records {
		s.occupancy[r.ZoneID] = append(s.occupancy[r.ZoneID], r)
		seen[r.ZoneID] = true
	}

	for zone := range seen {
		all := s.occupancy[zone]
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Timestamp.Before(all[j].Timestamp)
		})
		// Keep the latest write for duplicate timestamps.
		out := all[:0]
		for i, r := range all {
			if i+1 < len(all) && all[i+1].Timestamp.Equal(r.Timestamp) {
				continue
			}
			out = append(out, r)
		}
		s.occupancy[zone] = out
	}
}

// Zones returns every zone with observations or metadata, sorted.
func (s *Store) Zones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.occupancy)+len(s.spaces))
	zones := make([]string, 0, len(seen))
	for id := range s.occupancy {
		if !seen[id] {
			seen[id] = true
			zones = append(zones, id)
		}
	}
	for id := range s.spaces {
		if !seen[id] {
			seen[id] = true
			zones = append(zones, id)
		}
	}
	sort.Strings(zones)
	return zones
}

// Count returns the number of observations for a zone.
func (s *Store) Count(zoneID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.occupancy[zoneID])
}

// TimeRange returns the time range covered by a zone's observations.
func (s *Store) TimeRange(zoneID string) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.occupancy[zoneID]
	if len(all) == 0 {
		return model.TimeRange{}, false
	}
	return model.TimeRange{
		Start: all[0].Timestamp,
		End:   all[len(all)-1].Timestamp,
	}, true
}

// GlobalTimeRange returns the union of all zones' time ranges.
func (s *Store) GlobalTimeRange() (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true

	for _, all := range s.occupancy {
		if len(all) == 0 {
			continue
		}
		rStart := all[0].Timestamp
		rEnd := all[len(all)-1].Timestamp

		if first || rStart.Before(start) {
			start = rStart
		}
		if first || rEnd.After(end) {
			end = rEnd
		}
		first = false
	}

	if first {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// OccupancyInRange returns a zone's observations between start (inclusive)
// and end (exclusive).
func (s *Store) OccupancyInRange(zoneID string, start, end time.Time) []model.OccupancyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.occupancy[zoneID]
	if len(all) == 0 {
		return nil
	}

	startIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(start)
	})
	endIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(end)
	})

	if startIdx >= endIdx {
		return nil
	}

	result := make([]model.OccupancyRecord, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// OccupancyAt returns the most recent observation at or before t.
func (s *Store) OccupancyAt(zoneID string, t time.Time) (model.OccupancyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.occupancy[zoneID]
	idx := sort.Search(len(all), func(i int) bool {
		return all[i].Timestamp.After(t)
	})
	if idx == 0 {
		return model.OccupancyRecord{}, false
	}
	return all[idx-1], true
}

// Series returns a zone's observations as a forecasting series.
func (s *Store) Series(zoneID string) forecast.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.occupancy[zoneID]
	out := make(forecast.Series, len(all))
	for i, r := range all {
		out[i] = forecast.Observation{Timestamp: r.Timestamp, Value: r.Count}
	}
	return out
}

// Latest returns the trailing n observations for a zone as a series, for
// seeding a sequence forecast with live context.
func (s *Store) Latest(zoneID string, n int) forecast.Series {
	series := s.Series(zoneID)
	if n >= 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	return series
}
