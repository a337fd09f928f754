package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(hour int) Frame {
	f := Frame{
		File: "f",
		Time: testInit.Add(time.Duration(hour) * time.Hour),
		Lats: testLats,
		Lons: testLons,
	}
	f.Layers.Set(Temperature2m, make([]float64, len(testLats)*len(testLons)))
	return f
}

func TestAssemble_SortsAscending(t *testing.T) {
	key := CycleKey{Source: "gfs", Date: "20240101", Hour: 0}
	frames := []Frame{testFrame(9), testFrame(6), testFrame(3), testFrame(0)}

	grid, err := Assemble(key, frames, discardLogger())

	require.NoError(t, err)
	require.Len(t, grid.Times, 4)
	for i := 1; i < len(grid.Times); i++ {
		assert.True(t, grid.Times[i].After(grid.Times[i-1]))
	}
	assert.Equal(t, testInit, grid.InitTime)
	assert.Equal(t, grid.Times[0], grid.Frames[0].Time)
	assert.Equal(t, []Variable{Temperature2m}, grid.Variables())
	assert.Equal(t, 6, grid.Points())
}

func TestAssemble_NoValidFrames(t *testing.T) {
	_, err := Assemble(CycleKey{Source: "gfs", Date: "20240101"}, nil, discardLogger())
	assert.ErrorIs(t, err, ErrNoValidFrames)
}

func TestAssemble_DropsDuplicatesAndForeignGrids(t *testing.T) {
	other := testFrame(6)
	other.Lons = []float64{0, 1, 2}
	dup := testFrame(3)
	dup.File = "dup"

	grid, err := Assemble(CycleKey{Source: "gfs", Date: "20240101"}, []Frame{testFrame(3), dup, other, testFrame(0)}, discardLogger())

	require.NoError(t, err)
	require.Len(t, grid.Times, 2)
	assert.Equal(t, "f", grid.Frames[1].File)
}

func TestSameGrid(t *testing.T) {
	assert.True(t, SameGrid(testLats, testLons, []float64{60, 59.7500000001}, testLons))
	assert.False(t, SameGrid(testLats, testLons, testLats, testLons[:2]))
}

func TestCycleGridCell(t *testing.T) {
	g := CycleGrid{Lats: []float64{60, 59.75}, Lons: []float64{10, 10.25, 10.5}}
	lat, lon := g.Cell(4)
	assert.Equal(t, 59.75, lat)
	assert.Equal(t, 10.25, lon)

	g.Projected = Some(Projected{
		Lats: []float64{1, 2, 3, 4, 5, 6},
		Lons: []float64{11, 12, 13, 14, 15, 16},
	})
	lat, lon = g.Cell(4)
	assert.Equal(t, 5.0, lat)
	assert.Equal(t, 15.0, lon)
}
