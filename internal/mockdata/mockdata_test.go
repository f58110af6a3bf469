package mockdata

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opName = regexp.MustCompile(`^Op[A-Z]{3}$`)

func TestOperations_Shape(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		stations := Operations(rand.New(rand.NewSource(seed)))
		require.NotEmpty(t, stations)
		assert.Equal(t, Station{Name: "Source", Kind: KindSource}, stations[0])

		layout := Split(stations)
		require.Len(t, layout.Source, 1)
		ops := len(layout.Operations)
		assert.GreaterOrEqual(t, ops, 2)
		assert.LessOrEqual(t, ops, 5)
		assert.Len(t, layout.Buffers, ops-1)
		assert.Len(t, stations, 1+ops+(ops-1))

		// Source, Op, then alternating Buffer, Op.
		assert.Equal(t, KindOperation, stations[1].Kind)
		for i := 2; i < len(stations); i += 2 {
			assert.Equal(t, KindBuffer, stations[i].Kind)
			assert.Equal(t, KindOperation, stations[i+1].Kind)
		}

		for _, b := range layout.Buffers {
			assert.GreaterOrEqual(t, b.MaxCapacity, 10)
			assert.LessOrEqual(t, b.MaxCapacity, 50)
		}
		for _, op := range layout.Operations {
			assert.Regexp(t, opName, op.Name)
			assert.GreaterOrEqual(t, op.MeanSec, 100)
			assert.LessOrEqual(t, op.MeanSec, 600)
			assert.GreaterOrEqual(t, op.SigmaSec, 10)
			assert.LessOrEqual(t, op.SigmaSec, 50)
			assert.GreaterOrEqual(t, op.MTTRPercent, 10)
			assert.LessOrEqual(t, op.MTTRPercent, 30)
		}
	}
}

func TestBufferNamesAreNumberedFromOne(t *testing.T) {
	stations := Operations(rand.New(rand.NewSource(7)))
	layout := Split(stations)
	for i, b := range layout.Buffers {
		assert.Equal(t, "Buffer_"+string(rune('1'+i)), b.Name)
	}
}

func TestNewParameters_Ranges(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		p := NewParameters(rng)
		assert.True(t, p.Replications >= 2 && p.Replications <= 5, "replications %d", p.Replications)
		assert.True(t, p.WarmupDays >= 1 && p.WarmupDays <= 2, "warmup %d", p.WarmupDays)
		assert.True(t, p.HorizonDays >= 30 && p.HorizonDays <= 60, "horizon %d", p.HorizonDays)
	}
}

func TestUtilizationFor_SumsToHundred(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		layout := Split(Operations(rng))
		rows := UtilizationFor(rng, layout.Operations)
		require.Len(t, rows, len(layout.Operations))
		for _, u := range rows {
			assert.Equal(t, 100, u.Busy+u.Blocked+u.Failed+u.Idle, "%+v", u)
			assert.GreaterOrEqual(t, u.Busy, 40)
			assert.GreaterOrEqual(t, u.Idle, 0)
			assert.GreaterOrEqual(t, u.Blocked, 0)
		}
	}
}

func TestWIP_BoundedByCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	buffers := []Station{{Name: "Buffer_1", MaxCapacity: 12}, {Name: "Buffer_2", MaxCapacity: 20}}

	points := WIP(rng, buffers, 45)
	require.Len(t, points, 45)
	for i, p := range points {
		assert.Equal(t, i+1, p.Day)
		assert.GreaterOrEqual(t, p.WIP, 0)
		assert.LessOrEqual(t, p.WIP, 32)
	}

	assert.Nil(t, WIP(rng, buffers, 0))
}

func TestSplit_IgnoresUnknownNames(t *testing.T) {
	layout := Split([]Station{{Name: "source"}, {Name: "BUFFER_1"}, {Name: "opABC"}, {Name: "Sink"}})
	assert.Len(t, layout.Source, 1)
	assert.Len(t, layout.Buffers, 1)
	assert.Len(t, layout.Operations, 1)
}

func TestSimulatorFor(t *testing.T) {
	assert.Equal(t, "Visual Components", SimulatorFor("aml"))
	assert.Equal(t, "Visual Components", SimulatorFor(".AML"))
	assert.Equal(t, "inFACTS Studio", SimulatorFor("xml"))
	assert.Equal(t, "", SimulatorFor("csv"))
}

func TestGenerate_IsDeterministicPerSeed(t *testing.T) {
	a := Generate(rand.New(rand.NewSource(42)), "xml")
	b := Generate(rand.New(rand.NewSource(42)), "xml")
	assert.Equal(t, a, b)
	assert.Equal(t, "inFACTS Studio", a.Simulator)
	assert.Len(t, a.WIP, a.Parameters.HorizonDays)
	assert.Len(t, a.Utilization, len(a.Layout.Operations))
}
