package dashboard

import (
	"encoding/json"
	"math"
	"time"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
	"hvac_savings/internal/report"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypeAnalysisRun    = "analysis:run"
	TypePolicySimulate = "policy:simulate"
	TypeHeatmapRequest = "heatmap:request"

	// Server -> Client
	TypeDataLoaded     = "data:loaded"
	TypeSavingsSummary = "savings:summary"
	TypePolicyResult   = "policy:result"
	TypeHeatmapData    = "heatmap:data"
	TypeOccupancyLive  = "occupancy:live"
	TypeError          = "error"
)

// Client -> Server messages

type AnalysisRunPayload struct {
	OccupancyThreshold float64 `json:"occupancy_threshold"`
}

type PolicySimulatePayload struct {
	Policy string `json:"policy"`
}

type HeatmapRequestPayload struct {
	Zone string `json:"zone"`
	Agg  string `json:"agg"`
}

// Server -> Client messages

type ZoneInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	IsExternal bool    `json:"is_external"`
	Floor      int     `json:"floor,omitempty"`
	AreaSqft   float64 `json:"area_sqft,omitempty"`
}

type TimeRangeInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DataLoadedPayload struct {
	Zones     []ZoneInfo    `json:"zones"`
	TimeRange TimeRangeInfo `json:"time_range"`
	Intervals int           `json:"intervals"`
	HasRates  bool          `json:"has_rates"`
}

type SavingsSummaryPayload struct {
	OccupancyThreshold float64                  `json:"occupancy_threshold"`
	Potential          control.SavingsPotential `json:"potential"`
	Daily              []report.DailyPoint      `json:"daily"`
}

type PolicyResultPayload struct {
	Policy  string                    `json:"policy"`
	Summary control.SimulationSummary `json:"summary"`
}

// HeatmapPayload holds rows Monday..Sunday of 24 hourly cells; empty cells
// are null.
type HeatmapPayload struct {
	Zone   string       `json:"zone"`
	Agg    string       `json:"agg"`
	Max    float64      `json:"max"`
	Values [][]*float64 `json:"values"`
	Counts [7][24]int   `json:"counts"`
}

type OccupancyLivePayload struct {
	ZoneID    string  `json:"zone_id"`
	Count     float64 `json:"count"`
	Timestamp string  `json:"timestamp"`
}

type ErrorPayload struct {
	Request string `json:"request,omitempty"`
	Message string `json:"message"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func timeRangeInfo(tr model.TimeRange) TimeRangeInfo {
	if tr.Start.IsZero() {
		return TimeRangeInfo{}
	}
	return TimeRangeInfo{
		Start: tr.Start.Format(time.RFC3339),
		End:   tr.End.Format(time.RFC3339),
	}
}

func heatmapPayload(h report.Heatmap) HeatmapPayload {
	values := make([][]*float64, 7)
	for d := range h.Values {
		values[d] = make([]*float64, 24)
		for hr, v := range h.Values[d] {
			if math.IsNaN(v) {
				continue
			}
			v := v
			values[d][hr] = &v
		}
	}
	return HeatmapPayload{
		Zone:   h.ZoneID,
		Agg:    string(h.Agg),
		Max:    h.Max(),
		Values: values,
		Counts: h.Counts,
	}
}

func occupancyLivePayload(r model.OccupancyRecord) OccupancyLivePayload {
	return OccupancyLivePayload{
		ZoneID:    r.ZoneID,
		Count:     r.Count,
		Timestamp: r.Timestamp.Format(time.RFC3339),
	}
}
