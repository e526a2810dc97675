package view

import (
	"fmt"
	"io"
	"math"

	"spendlog/internal/core"
)

const (
	chartSize   = 200
	chartRadius = 90
)

var palette = map[core.Category]string{
	core.Groceries:     "rgba(255, 99, 132, 0.8)",
	core.Transport:     "rgba(54, 162, 235, 0.8)",
	core.PersonalCare:  "rgba(255, 206, 86, 0.8)",
	core.Entertainment: "rgba(75, 192, 192, 0.8)",
	core.Utilities:     "rgba(153, 102, 255, 0.8)",
	core.Other:         "rgba(255, 159, 64, 0.8)",
}

// ColorFor returns the chart color of a category.
func ColorFor(c core.Category) string {
	if col, ok := palette[c]; ok {
		return col
	}
	return "rgba(201, 203, 207, 0.8)"
}

// Slice is one pie sector. Path is empty for categories with no spending.
type Slice struct {
	Category core.Category
	Color    string
	Percent  float64
	Path     string
}

// PieSlices returns one slice per category in fixed order, sized by the
// category's share of the grand total.
func PieSlices(s core.Summary) []Slice {
	out := make([]Slice, 0, len(s.ByCategory))
	total := float64(s.Total.Cents)
	angle := -math.Pi / 2
	for _, ca := range s.ByCategory {
		sl := Slice{Category: ca.Category, Color: ColorFor(ca.Category)}
		if total > 0 && ca.Amount.Cents > 0 {
			share := float64(ca.Amount.Cents) / total
			sl.Percent = math.Round(share*1000) / 10
			sweep := share * 2 * math.Pi
			sl.Path = sectorPath(angle, sweep)
			angle += sweep
		}
		out = append(out, sl)
	}
	return out
}

func sectorPath(start, sweep float64) string {
	cx, cy, r := float64(chartSize)/2, float64(chartSize)/2, float64(chartRadius)
	if sweep >= 2*math.Pi-1e-9 {
		return fmt.Sprintf("M %.2f %.2f A %.2f %.2f 0 1 1 %.2f %.2f A %.2f %.2f 0 1 1 %.2f %.2f Z",
			cx-r, cy, r, r, cx+r, cy, r, r, cx-r, cy)
	}
	x0, y0 := cx+r*math.Cos(start), cy+r*math.Sin(start)
	x1, y1 := cx+r*math.Cos(start+sweep), cy+r*math.Sin(start+sweep)
	large := 0
	if sweep > math.Pi {
		large = 1
	}
	return fmt.Sprintf("M %.2f %.2f L %.2f %.2f A %.2f %.2f 0 %d 1 %.2f %.2f Z",
		cx, cy, x0, y0, r, r, large, x1, y1)
}

// WriteChart writes the pie chart as a standalone SVG document.
func WriteChart(w io.Writer, slices []Slice) error {
	if _, err := fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d" role="img" aria-label="Expenses by category">`,
		chartSize, chartSize, chartSize, chartSize); err != nil {
		return err
	}
	drawn := 0
	for _, s := range slices {
		if s.Path == "" {
			continue
		}
		drawn++
		if _, err := fmt.Fprintf(w, `<path d="%s" fill="%s" stroke="#fff" stroke-width="1"><title>%s %.1f%%</title></path>`,
			s.Path, s.Color, s.Category, s.Percent); err != nil {
			return err
		}
	}
	if drawn == 0 {
		if _, err := fmt.Fprintf(w, `<circle cx="%d" cy="%d" r="%d" fill="#eee"/>`, chartSize/2, chartSize/2, chartRadius); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, `</svg>`)
	return err
}
