package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"hvac_savings/internal/control"
)

var weekdays = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// FigureOptions size and title a chart. Zero width or height uses 720×360.
type FigureOptions struct {
	Title  string
	Width  uint
	Height uint
}

func (o FigureOptions) dimension() excelize.ChartDimension {
	d := excelize.ChartDimension{Width: o.Width, Height: o.Height}
	if d.Width == 0 {
		d.Width = 720
	}
	if d.Height == 0 {
		d.Height = 360
	}
	return d
}

func (o FigureOptions) title(fallback string) []excelize.RichTextRun {
	if o.Title != "" {
		fallback = o.Title
	}
	return []excelize.RichTextRun{{Text: fallback}}
}

// Workbook collects report sheets, each a data table with a chart beside it.
type Workbook struct {
	f           *excelize.File
	headerStyle int
	sheets      []string
}

// NewWorkbook returns an empty workbook.
func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	return &Workbook{f: f, headerStyle: style}, nil
}

// Sheets returns the names of the sheets added so far.
func (w *Workbook) Sheets() []string {
	return append([]string(nil), w.sheets...)
}

// File exposes the underlying workbook.
func (w *Workbook) File() *excelize.File {
	return w.f
}

// PlotDailyOpportunity charts wasted energy per day.
func (w *Workbook) PlotDailyOpportunity(points []DailyPoint, opts FigureOptions) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: daily opportunity", ErrNoData)
	}
	sheet, err := w.addSheet("Daily Opportunity", []string{"Date", "Intervals", "Hours", "Energy (kWh)", "Cost"}, []float64{14, 12, 10, 14, 10})
	if err != nil {
		return err
	}
	for i, p := range points {
		row := []any{p.Date.Format("2006-01-02"), p.Intervals, round(p.Hours, 2), round(p.EnergyKWh, 3), round(p.Cost, 2)}
		if err := w.setRow(sheet, i+2, row); err != nil {
			return err
		}
	}
	last := len(points) + 1
	return w.f.AddChart(sheet, "G2", &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{{
			Name:       ref(sheet, "D", 1, 1),
			Categories: ref(sheet, "A", 2, last),
			Values:     ref(sheet, "D", 2, last),
		}},
		Title:     opts.title("Daily savings opportunity"),
		Dimension: opts.dimension(),
		Legend:    excelize.ChartLegend{Position: "none"},
		XAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Date"}}},
		YAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "kWh"}}},
	})
}

// PlotExampleDayTimeline charts one zone's occupancy against HVAC energy
// over a day, marking opportunity intervals in the table.
func (w *Workbook) PlotExampleDayTimeline(points []TimelinePoint, opts FigureOptions) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: day timeline", ErrNoData)
	}
	sheet, err := w.addSheet("Day Timeline", []string{"Time", "Occupancy", "HVAC On", "Setpoint (°F)", "Energy (kWh)", "Opportunity"}, []float64{10, 12, 10, 14, 14, 12})
	if err != nil {
		return err
	}
	for i, p := range points {
		row := []any{p.Timestamp.Format("15:04"), nil, yesNo(p.HVACOn), nil, nil, yesNo(p.IsOpportunity)}
		if p.HasOccupancy {
			row[1] = p.Occupancy
		}
		if p.HasHVAC {
			row[3] = p.Setpoint
			row[4] = round(p.EnergyKWh, 3)
		}
		if err := w.setRow(sheet, i+2, row); err != nil {
			return err
		}
	}
	last := len(points) + 1
	return w.f.AddChart(sheet, "H2", &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{
			{Name: ref(sheet, "B", 1, 1), Categories: ref(sheet, "A", 2, last), Values: ref(sheet, "B", 2, last)},
			{Name: ref(sheet, "E", 1, 1), Categories: ref(sheet, "A", 2, last), Values: ref(sheet, "E", 2, last)},
		},
		Title:     opts.title(fmt.Sprintf("Occupancy and HVAC energy, %s", points[0].Timestamp.Format("2006-01-02"))),
		Dimension: opts.dimension(),
		Legend:    excelize.ChartLegend{Position: "bottom"},
		XAxis:     excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Time"}}},
	})
}

// PlotOccupancyHeatmap writes the weekday × hour grid and shades it with a
// three-colour scale.
func (w *Workbook) PlotOccupancyHeatmap(h Heatmap, opts FigureOptions) error {
	headers := make([]string, 25)
	widths := make([]float64, 25)
	headers[0], widths[0] = "Day", 8
	for hr := 0; hr < 24; hr++ {
		headers[hr+1] = fmt.Sprintf("%02d", hr)
		widths[hr+1] = 6
	}
	name := "Occupancy Heatmap"
	if h.ZoneID != "" {
		name = "Heatmap " + h.ZoneID
	}
	sheet, err := w.addSheet(name, headers, widths)
	if err != nil {
		return err
	}
	for d := range h.Values {
		row := make([]any, 25)
		row[0] = weekdays[d]
		for hr, v := range h.Values[d] {
			if !math.IsNaN(v) {
				row[hr+1] = round(v, 2)
			}
		}
		if err := w.setRow(sheet, d+2, row); err != nil {
			return err
		}
	}
	if err := w.f.SetConditionalFormat(sheet, "B2:Y8", []excelize.ConditionalFormatOptions{{
		Type:     "3_color_scale",
		Criteria: "=",
		MinType:  "min",
		MidType:  "percentile",
		MidValue: "50",
		MaxType:  "max",
		MinColor: "#F8F8F8",
		MidColor: "#FFEB84",
		MaxColor: "#F8696B",
	}}); err != nil {
		return fmt.Errorf("shading heatmap: %w", err)
	}
	title := opts.title(fmt.Sprintf("Occupancy (%s) by weekday and hour", h.Agg))
	return w.f.SetCellValue(sheet, "A10", title[0].Text)
}

// PlotSavingsSummary lists the headline numbers and charts opportunity
// energy by weekday.
func (w *Workbook) PlotSavingsSummary(p control.SavingsPotential, opts FigureOptions) error {
	sheet, err := w.addSheet("Savings Summary", []string{"Metric", "Value"}, []float64{32, 14})
	if err != nil {
		return err
	}
	metrics := [][]any{
		{"Opportunity intervals", p.Intervals},
		{"Opportunity hours", round(p.TotalHours, 2)},
		{"Opportunity energy (kWh)", round(p.TotalEnergyKWh, 3)},
		{"Total HVAC energy (kWh)", round(p.TotalHVACEnergyKWh, 3)},
		{"Share of HVAC energy (%)", round(p.PercentOfTotal, 1)},
	}
	if p.HasCost {
		metrics = append(metrics, []any{"Opportunity cost", round(p.TotalCost, 2)})
	}
	for i, m := range metrics {
		if err := w.setRow(sheet, i+2, m); err != nil {
			return err
		}
	}

	start := len(metrics) + 3
	if err := w.setHeader(sheet, start, []string{"Weekday", "Energy (kWh)"}); err != nil {
		return err
	}
	for d, b := range p.ByDayOfWeek {
		if err := w.setRow(sheet, start+1+d, []any{weekdays[d], round(b.EnergyKWh, 3)}); err != nil {
			return err
		}
	}
	return w.f.AddChart(sheet, "D2", &excelize.Chart{
		Type: excelize.Pie,
		Series: []excelize.ChartSeries{{
			Name:       ref(sheet, "B", start, start),
			Categories: ref(sheet, "A", start+1, start+7),
			Values:     ref(sheet, "B", start+1, start+7),
		}},
		Title:     opts.title("Opportunity energy by weekday"),
		Dimension: opts.dimension(),
		Legend:    excelize.ChartLegend{Position: "right"},
		PlotArea:  excelize.ChartPlotArea{ShowPercent: true},
	})
}

// PlotPolicyComparison tabulates simulated policies and charts their
// energy savings.
func (w *Workbook) PlotPolicyComparison(results map[control.Policy]control.SimulationSummary, opts FigureOptions) error {
	if len(results) == 0 {
		return fmt.Errorf("%w: policy comparison", ErrNoData)
	}
	policies := make([]control.Policy, 0, len(results))
	for p := range results {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i] < policies[j] })

	sheet, err := w.addSheet("Policy Comparison", []string{"Policy", "Savings (kWh)", "Savings (%)", "Cost Savings", "Setback Hours", "Comfort Violations"}, []float64{22, 14, 12, 14, 14, 18})
	if err != nil {
		return err
	}
	for i, p := range policies {
		s := results[p]
		row := []any{string(p), round(s.TotalEnergySavingsKWh, 3), round(s.PercentEnergySavings, 1), round(s.TotalCostSavings, 2), round(s.SetbackHours, 2), s.ComfortViolations}
		if err := w.setRow(sheet, i+2, row); err != nil {
			return err
		}
	}
	last := len(policies) + 1
	return w.f.AddChart(sheet, "H2", &excelize.Chart{
		Type: excelize.Bar,
		Series: []excelize.ChartSeries{{
			Name:       ref(sheet, "B", 1, 1),
			Categories: ref(sheet, "A", 2, last),
			Values:     ref(sheet, "B", 2, last),
		}},
		Title:     opts.title("Energy savings by policy"),
		Dimension: opts.dimension(),
		Legend:    excelize.ChartLegend{Position: "none"},
	})
}

// SaveAs writes the workbook to path.
func (w *Workbook) SaveAs(path string) error {
	if err := w.finish(); err != nil {
		return err
	}
	if err := w.f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}

// WriteTo streams the workbook as xlsx.
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	if err := w.finish(); err != nil {
		return 0, err
	}
	n, err := w.f.WriteTo(out)
	if err != nil {
		return n, fmt.Errorf("writing workbook: %w", err)
	}
	return n, nil
}

// Close releases the workbook's temporary resources.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// finish drops the default sheet once a report sheet exists.
func (w *Workbook) finish() error {
	if len(w.sheets) == 0 {
		return nil
	}
	if idx, err := w.f.GetSheetIndex("Sheet1"); err == nil && idx >= 0 {
		if err := w.f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("removing default sheet: %w", err)
		}
	}
	if idx, err := w.f.GetSheetIndex(w.sheets[0]); err == nil && idx >= 0 {
		w.f.SetActiveSheet(idx)
	}
	return nil
}

func (w *Workbook) addSheet(name string, headers []string, widths []float64) (string, error) {
	name = w.uniqueName(name)
	if _, err := w.f.NewSheet(name); err != nil {
		return "", fmt.Errorf("creating sheet %s: %w", name, err)
	}
	w.sheets = append(w.sheets, name)
	if err := w.setHeader(name, 1, headers); err != nil {
		return "", err
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return "", err
		}
		if err := w.f.SetColWidth(name, col, col, width); err != nil {
			return "", fmt.Errorf("setting column width: %w", err)
		}
	}
	if err := w.f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return "", fmt.Errorf("freezing header: %w", err)
	}
	return name, nil
}

func (w *Workbook) uniqueName(name string) string {
	name = truncateRunes(sheetNameReplacer.Replace(name), maxSheetName)
	candidate := name
	for i := 2; ; i++ {
		idx, err := w.f.GetSheetIndex(candidate)
		if err != nil || idx < 0 {
			return candidate
		}
		suffix := fmt.Sprintf(" (%d)", i)
		candidate = truncateRunes(name, maxSheetName-len(suffix)) + suffix
	}
}

const maxSheetName = 31

var sheetNameReplacer = strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "(", "]", ")")

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (w *Workbook) setHeader(sheet string, row int, headers []string) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("setting header cell %s: %w", cell, err)
		}
		if err := w.f.SetCellStyle(sheet, cell, cell, w.headerStyle); err != nil {
			return fmt.Errorf("styling header cell %s: %w", cell, err)
		}
	}
	return nil
}

func (w *Workbook) setRow(sheet string, row int, values []any) error {
	for col, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("setting cell %s: %w", cell, err)
		}
	}
	return nil
}

// ref builds an absolute column range reference like 'Sheet'!$B$2:$B$9.
func ref(sheet, col string, from, to int) string {
	if from == to {
		return fmt.Sprintf("'%s'!$%s$%d", sheet, col, from)
	}
	return fmt.Sprintf("'%s'!$%s$%d:$%s$%d", sheet, col, from, col, to)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
