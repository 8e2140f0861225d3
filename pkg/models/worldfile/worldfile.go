// Package worldfile parses ESRI world files (.jgw/.jgwx) and implements the
// sheet-number geometry used to cross-check filenames against the
// georeferenced image content.
package worldfile

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// WorldFile holds the six-parameter affine transformation in the order the
// file stores them: a, d, b, e, c, f where
//
//	x' = a*x + b*y + c
//	y' = d*x + e*y + f
type WorldFile struct {
	A, D, B, E, C, F float64
}

// Bounds is an axis-aligned rectangle in georeferenced coordinates.
type Bounds struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Contains reports whether b completely contains inner.
func (b Bounds) Contains(inner Bounds) bool {
	return b.Left <= inner.Left &&
		b.Right >= inner.Right &&
		b.Bottom <= inner.Bottom &&
		b.Top >= inner.Top
}

// Parse reads the six numeric lines of a world file.
func Parse(r io.Reader) (*WorldFile, error) {
	var values []float64

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid world file format")
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(values) != 6 {
		return nil, fmt.Errorf("invalid world file format")
	}

	return &WorldFile{
		A: values[0],
		D: values[1],
		B: values[2],
		E: values[3],
		C: values[4],
		F: values[5],
	}, nil
}

// Apply transforms pixel coordinates to georeferenced coordinates.
func (w *WorldFile) Apply(pixelX, pixelY float64) (float64, float64) {
	geoX := w.A*pixelX + w.B*pixelY + w.C
	geoY := w.D*pixelX + w.E*pixelY + w.F
	return geoX, geoY
}

// NearOrigin reports whether both translation terms sit within (-5, 5).
// Such a transform places the map at the coordinate origin which means the
// image was never georeferenced.
func (w *WorldFile) NearOrigin() bool {
	return w.C > -5 && w.C < 5 && w.F > -5 && w.F < 5
}

// ImageBounds returns the bounding box of an image of the given pixel
// dimensions under the transformation.
func (w *WorldFile) ImageBounds(width, height int) Bounds {
	corners := [4][2]float64{
		{0, 0},
		{float64(width), 0},
		{float64(width), float64(height)},
		{0, float64(height)},
	}

	var xs, ys [4]float64
	for i, c := range corners {
		xs[i], ys[i] = w.Apply(c[0], c[1])
	}

	return Bounds{
		Left:   min4(xs),
		Right:  max4(xs),
		Top:    max4(ys),
		Bottom: min4(ys),
	}
}

// SheetNumber derives the 6-digit sheet number from the bottom-left corner
// of the image. Corner coordinates are rounded up to the nearest 1000 m and
// the digits spliced as x[0] + y[0] + x[1:3] + y[1:3].
func (w *WorldFile) SheetNumber(width, height int) (string, error) {
	geoX, geoY := w.Apply(0, float64(height))

	x := strconv.Itoa(int(math.Ceil(geoX/1000)) * 1000)
	y := strconv.Itoa(int(math.Ceil(geoY/1000)) * 1000)
	if len(x) < 3 || len(y) < 3 {
		return "", fmt.Errorf("georeferenced corner (%s, %s) too close to origin for sheet number", x, y)
	}

	return x[0:1] + y[0:1] + x[1:3] + y[1:3], nil
}

// SheetBounds returns the expected map area for a sheet number. Each sheet
// covers 2000 m by 1000 m; the rectangle is shrunk inwards by shrinkM meters
// to allow for edge pixels.
func SheetBounds(sheetNumber string, shrinkM int) (Bounds, error) {
	if len(sheetNumber) != 6 {
		return Bounds{}, fmt.Errorf("sheet number must be 6 digits, got %q", sheetNumber)
	}

	left, err := strconv.Atoi(sheetNumber[0:1] + sheetNumber[2:4])
	if err != nil {
		return Bounds{}, fmt.Errorf("sheet number must be 6 digits, got %q", sheetNumber)
	}
	bottom, err := strconv.Atoi(sheetNumber[1:2] + sheetNumber[4:6])
	if err != nil {
		return Bounds{}, fmt.Errorf("sheet number must be 6 digits, got %q", sheetNumber)
	}

	b := Bounds{
		Left:   float64(left*1000 + shrinkM),
		Right:  float64(left*1000 + 2000 - shrinkM),
		Bottom: float64(bottom*1000 + shrinkM),
		Top:    float64(bottom*1000 + 1000 - shrinkM),
	}
	return b, nil
}

func min4(v [4]float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func max4(v [4]float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
