package preprocess

import (
	"time"

	"hvac_savings/internal/model"
)

// MergeOptions configure MergeOccupancyHVAC.
type MergeOptions struct {
	Freq string
	Join JoinType
}

// DefaultMergeOptions returns a 15-minute grid with an inner join.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{Freq: "15min", Join: JoinInner}
}

type bucketKey struct {
	zone string
	ts   int64
}

type occBucket struct {
	ts  time.Time
	max float64
}

type hvacBucket struct {
	ts          time.Time
	setpointSum float64
	n           int
	on          bool
	mode        model.HVACMode
	modeAt      time.Time
	energy      float64
}

// MergeOccupancyHVAC resamples both inputs onto the frequency grid per zone
// and joins them on (zone, interval).
//
// Within a bucket occupancy keeps its maximum count, so any presence marks
// the interval occupied. HVAC setpoints are averaged, energy is summed, and
// the unit counts as on when any sample in the bucket was active. Rows that
// lack one side of the join have HasOccupancy or HasHVAC cleared.
func MergeOccupancyHVAC(occ []model.OccupancyRecord, hvac []model.HVACRecord, opts MergeOptions) (model.Frame, error) {
	if opts.Freq == "" {
		opts.Freq = DefaultMergeOptions().Freq
	}
	freq, err := ParseFrequency(opts.Freq)
	if err != nil {
		return nil, err
	}
	join, err := ParseJoin(string(opts.Join))
	if err != nil {
		return nil, err
	}

	occBuckets := make(map[bucketKey]*occBucket)
	for _, r := range occ {
		ts := floorTime(r.Timestamp, freq)
		k := bucketKey{zone: r.ZoneID, ts: ts.UnixNano()}
		b, ok := occBuckets[k]
		if !ok {
			occBuckets[k] = &occBucket{ts: ts, max: r.Count}
			continue
		}
		if r.Count > b.max {
			b.max = r.Count
		}
	}

	hvacBuckets := make(map[bucketKey]*hvacBucket)
	for _, r := range hvac {
		ts := floorTime(r.Timestamp, freq)
		k := bucketKey{zone: r.ZoneID, ts: ts.UnixNano()}
		b, ok := hvacBuckets[k]
		if !ok {
			b = &hvacBucket{ts: ts, mode: model.HVACOff}
			hvacBuckets[k] = b
		}
		b.setpointSum += r.Setpoint
		b.n++
		b.energy += r.EnergyKWh
		if r.Mode.IsActive() {
			b.on = true
			if b.modeAt.IsZero() || !r.Timestamp.Before(b.modeAt) {
				b.mode = r.Mode
				b.modeAt = r.Timestamp
			}
		}
	}

	keys := make(map[bucketKey]bool)
	switch join {
	case JoinInner:
		for k := range occBuckets {
			if _, ok := hvacBuckets[k]; ok {
				keys[k] = true
			}
		}
	case JoinLeft:
		for k := range occBuckets {
			keys[k] = true
		}
	case JoinRight:
		for k := range hvacBuckets {
			keys[k] = true
		}
	case JoinOuter:
		for k := range occBuckets {
			keys[k] = true
		}
		for k := range hvacBuckets {
			keys[k] = true
		}
	}

	frame := make(model.Frame, 0, len(keys))
	for k := range keys {
		iv := model.Interval{ZoneID: k.zone, Duration: freq}
		if o, ok := occBuckets[k]; ok {
			iv.Timestamp = o.ts
			iv.HasOccupancy = true
			iv.Occupancy = o.max
		}
		if h, ok := hvacBuckets[k]; ok {
			iv.Timestamp = h.ts
			iv.HasHVAC = true
			iv.Setpoint = h.setpointSum / float64(h.n)
			iv.Mode = h.mode
			iv.HVACOn = h.on
			iv.EnergyKWh = h.energy
		}
		frame = append(frame, iv)
	}
	frame.Sort()
	return frame, nil
}
