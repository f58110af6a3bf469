// Package mockdata fabricates the placeholder line layout, run parameters and charts
// shown next to an uploaded configuration. None of it is derived from the file or from
// simulator output.
package mockdata

import (
	"fmt"
	"math/rand"
	"strings"
)

const (
	KindSource    = "source"
	KindBuffer    = "buffer"
	KindOperation = "operation"
)

// Station is one row of the mock line: the source, a buffer or an operation.
type Station struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	MeanSec     int    `json:"mean_s,omitempty"`
	SigmaSec    int    `json:"sigma_s,omitempty"`
	MTTRPercent int    `json:"mttr_percent,omitempty"`
	MaxCapacity int    `json:"max_capacity,omitempty"`
}

// Parameters are the mock experiment settings.
type Parameters struct {
	Replications int `json:"replications"`
	WarmupDays   int `json:"warmup_days"`
	HorizonDays  int `json:"horizon_days"`
}

// Utilization is a synthetic state breakdown for one operation, in percent.
type Utilization struct {
	Name    string `json:"name"`
	Busy    int    `json:"busy"`
	Blocked int    `json:"blocked"`
	Failed  int    `json:"failed"`
	Idle    int    `json:"idle"`
}

// WIPPoint is the synthetic work-in-progress level at the end of a day.
type WIPPoint struct {
	Day int `json:"day"`
	WIP int `json:"wip"`
}

// Layout groups the stations the way the tables present them.
type Layout struct {
	Source     []Station `json:"source"`
	Buffers    []Station `json:"buffers"`
	Operations []Station `json:"operations"`
}

// Bundle is everything the upload page renders for a freshly chosen file.
type Bundle struct {
	Simulator   string        `json:"simulator"`
	Stations    []Station     `json:"stations"`
	Layout      Layout        `json:"layout"`
	Parameters  Parameters    `json:"parameters"`
	Utilization []Utilization `json:"utilization"`
	WIP         []WIPPoint    `json:"wip"`
}

// Operations builds Source followed by 2-5 operations, with a buffer in front of every
// operation but the first.
func Operations(rng *rand.Rand) []Station {
	numOps := between(rng, 2, 5)
	out := make([]Station, 0, 2*numOps)
	out = append(out, Station{Name: "Source", Kind: KindSource})
	for i := 0; i < numOps; i++ {
		if i > 0 {
			out = append(out, Station{
				Name:        fmt.Sprintf("Buffer_%d", i),
				Kind:        KindBuffer,
				MaxCapacity: between(rng, 10, 50),
			})
		}
		out = append(out, Station{
			Name:        "Op" + randomLetters(rng, 3),
			Kind:        KindOperation,
			MeanSec:     between(rng, 100, 600),
			SigmaSec:    between(rng, 10, 50),
			MTTRPercent: between(rng, 10, 30),
		})
	}
	return out
}

func NewParameters(rng *rand.Rand) Parameters {
	return Parameters{
		Replications: between(rng, 2, 5),
		WarmupDays:   between(rng, 1, 2),
		HorizonDays:  between(rng, 30, 60),
	}
}

// Split separates stations by name prefix, case-insensitively.
func Split(stations []Station) Layout {
	var l Layout
	for _, st := range stations {
		name := strings.ToLower(st.Name)
		switch {
		case name == "source":
			l.Source = append(l.Source, st)
		case strings.HasPrefix(name, "buffer"):
			l.Buffers = append(l.Buffers, st)
		case strings.HasPrefix(name, "op"):
			l.Operations = append(l.Operations, st)
		}
	}
	return l
}

// UtilizationFor draws a busy/blocked/failed/idle split per operation; each row sums to 100.
func UtilizationFor(rng *rand.Rand, ops []Station) []Utilization {
	out := make([]Utilization, 0, len(ops))
	for _, op := range ops {
		busy := between(rng, 40, 95)
		rest := 100 - busy
		failed := 0
		if op.MTTRPercent > 0 {
			failed = min(rest, rng.Intn(op.MTTRPercent/2+1))
		}
		rest -= failed
		blocked := rng.Intn(rest/2 + 1)
		out = append(out, Utilization{
			Name:    op.Name,
			Busy:    busy,
			Blocked: blocked,
			Failed:  failed,
			Idle:    rest - blocked,
		})
	}
	return out
}

// WIP walks a bounded random series with one point per simulated day.
func WIP(rng *rand.Rand, buffers []Station, horizonDays int) []WIPPoint {
	capacity := 0
	for _, b := range buffers {
		capacity += b.MaxCapacity
	}
	if capacity <= 0 {
		capacity = 10
	}
	if horizonDays <= 0 {
		return nil
	}

	level := capacity / 2
	step := capacity/5 + 1
	out := make([]WIPPoint, 0, horizonDays)
	for day := 1; day <= horizonDays; day++ {
		level += rng.Intn(2*step+1) - step
		if level < 0 {
			level = 0
		}
		if level > capacity {
			level = capacity
		}
		out = append(out, WIPPoint{Day: day, WIP: level})
	}
	return out
}

// SimulatorFor names the tool an upload with this extension unlocks, or "" for none.
func SimulatorFor(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")) {
	case "aml":
		return "Visual Components"
	case "xml":
		return "inFACTS Studio"
	default:
		return ""
	}
}

// Generate produces a complete mock bundle for a file with the given extension.
func Generate(rng *rand.Rand, ext string) Bundle {
	stations := Operations(rng)
	layout := Split(stations)
	params := NewParameters(rng)
	return Bundle{
		Simulator:   SimulatorFor(ext),
		Stations:    stations,
		Layout:      layout,
		Parameters:  params,
		Utilization: UtilizationFor(rng, layout.Operations),
		WIP:         WIP(rng, layout.Buffers, params.HorizonDays),
	}
}

func between(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

func randomLetters(rng *rand.Rand, n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
