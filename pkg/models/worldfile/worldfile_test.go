package worldfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleWorldFile = `0.1
0.0
0.0
-0.1
437100.0
356400.0
`

func TestParse(t *testing.T) {
	w, err := Parse(strings.NewReader(sampleWorldFile))
	assert.NoError(t, err)
	assert.Equal(t, 0.1, w.A)
	assert.Equal(t, -0.1, w.E)
	assert.Equal(t, 437100.0, w.C)
	assert.Equal(t, 356400.0, w.F)

	// Blank lines are tolerated.
	w, err = Parse(strings.NewReader("0.1\n\n0.0\n0.0\n-0.1\n437100.0\n\n356400.0\n"))
	assert.NoError(t, err)
	assert.Equal(t, 437100.0, w.C)

	for _, input := range []string{
		"",
		"0.1\n0.0\n0.0\n-0.1\n437100.0",              // five lines
		"0.1\n0.0\n0.0\n-0.1\n437100.0\nnot-a-number", // garbage
		sampleWorldFile + "99.0",                      // seven lines
	} {
		_, err := Parse(strings.NewReader(input))
		assert.ErrorContains(t, err, "invalid world file format", input)
	}
}

func TestApply(t *testing.T) {
	w, _ := Parse(strings.NewReader(sampleWorldFile))

	x, y := w.Apply(0, 0)
	assert.Equal(t, 437100.0, x)
	assert.Equal(t, 356400.0, y)

	x, y = w.Apply(1000, 2000)
	assert.Equal(t, 437200.0, x)
	assert.Equal(t, 356200.0, y)
}

func TestNearOrigin(t *testing.T) {
	georeferenced, _ := Parse(strings.NewReader(sampleWorldFile))
	assert.False(t, georeferenced.NearOrigin())

	unreferenced := &WorldFile{A: 1, E: -1, C: 0.5, F: -0.5}
	assert.True(t, unreferenced.NearOrigin())

	// One translation term away from the origin is enough.
	shifted := &WorldFile{A: 1, E: -1, C: 0.5, F: 356400}
	assert.False(t, shifted.NearOrigin())
}

func TestSheetNumber(t *testing.T) {
	w, _ := Parse(strings.NewReader(sampleWorldFile))

	// Bottom-left corner at (437100, 356200); both values round up to the
	// next kilometer before the digits are spliced.
	number, err := w.SheetNumber(4000, 2000)
	assert.NoError(t, err)
	assert.Equal(t, "433857", number)

	nearOrigin := &WorldFile{A: 1, E: -1, C: -10, F: -500}
	_, err = nearOrigin.SheetNumber(100, 100)
	assert.ErrorContains(t, err, "too close to origin")
}

func TestImageBounds(t *testing.T) {
	w, _ := Parse(strings.NewReader(sampleWorldFile))

	bounds := w.ImageBounds(4000, 2000)
	assert.Equal(t, 437100.0, bounds.Left)
	assert.Equal(t, 437500.0, bounds.Right)
	assert.Equal(t, 356400.0, bounds.Top)
	assert.Equal(t, 356200.0, bounds.Bottom)
}

func TestSheetBounds(t *testing.T) {
	bounds, err := SheetBounds("433857", 2)
	assert.NoError(t, err)
	assert.Equal(t, 438002.0, bounds.Left)
	assert.Equal(t, 439998.0, bounds.Right)
	assert.Equal(t, 357002.0, bounds.Bottom)
	assert.Equal(t, 357998.0, bounds.Top)

	_, err = SheetBounds("12345", 2)
	assert.Error(t, err)
	_, err = SheetBounds("12a456", 2)
	assert.Error(t, err)
}

func TestBoundsContains(t *testing.T) {
	outer := Bounds{Left: 0, Right: 100, Bottom: 0, Top: 50}
	assert.True(t, outer.Contains(Bounds{Left: 10, Right: 90, Bottom: 5, Top: 45}))
	assert.True(t, outer.Contains(outer))
	assert.False(t, outer.Contains(Bounds{Left: -1, Right: 90, Bottom: 5, Top: 45}))
	assert.False(t, outer.Contains(Bounds{Left: 10, Right: 101, Bottom: 5, Top: 45}))
	assert.False(t, outer.Contains(Bounds{Left: 10, Right: 90, Bottom: 5, Top: 51}))
}
