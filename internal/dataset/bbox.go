package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidBoundingBox is returned for malformed or out-of-range boxes.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// BoundingBox is a longitude/latitude rectangle in degrees.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// Globe covers the whole grid.
var Globe = BoundingBox{XMin: -180, XMax: 180, YMin: -90, YMax: 90}

// Validate rejects boxes that are clearly invalid. Longitudes may use either
// the -180..180 or the 0..360 convention.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.XMin, b.XMax, b.YMin, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidBoundingBox)
		}
	}
	if b.XMin >= b.XMax {
		return fmt.Errorf("%w: xmin %g must be less than xmax %g", ErrInvalidBoundingBox, b.XMin, b.XMax)
	}
	if b.YMin >= b.YMax {
		return fmt.Errorf("%w: ymin %g must be less than ymax %g", ErrInvalidBoundingBox, b.YMin, b.YMax)
	}
	if b.XMin < -180 || b.XMax > 360 {
		return fmt.Errorf("%w: longitudes must lie within [-180, 360]", ErrInvalidBoundingBox)
	}
	if b.XMax-b.XMin > 360 {
		return fmt.Errorf("%w: longitude span %g exceeds 360 degrees", ErrInvalidBoundingBox, b.XMax-b.XMin)
	}
	if b.YMin < -90 || b.YMax > 90 {
		return fmt.Errorf("%w: latitudes must lie within [-90, 90]", ErrInvalidBoundingBox)
	}
	return nil
}

// IsGlobe reports whether the box covers the default whole-globe extent.
func (b BoundingBox) IsGlobe() bool {
	return b == Globe
}

// String renders the box in the same order ParseBoundingBox accepts.
func (b BoundingBox) String() string {
	return strings.Join(b.Args(), ",")
}

// Args returns the four coordinates formatted for command-line engines.
func (b BoundingBox) Args() []string {
	return []string{
		formatCoord(b.XMin),
		formatCoord(b.XMax),
		formatCoord(b.YMin),
		formatCoord(b.YMax),
	}
}

// CoordArgs is Args with every value written as a decimal, e.g. "30.0".
// NCO reads integer hyperslab limits as indices and decimals as coordinates.
func (b BoundingBox) CoordArgs() []string {
	args := b.Args()
	for i, a := range args {
		if !strings.Contains(a, ".") {
			args[i] = a + ".0"
		}
	}
	return args
}

// ParseBoundingBox parses "xmin,xmax,ymin,ymax". An empty string yields Globe.
func ParseBoundingBox(s string) (BoundingBox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Globe, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: expected xmin,xmax,ymin,ymax, got %q", ErrInvalidBoundingBox, s)
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("%w: %q is not a number", ErrInvalidBoundingBox, p)
		}
		vals[i] = v
	}

	b := BoundingBox{XMin: vals[0], XMax: vals[1], YMin: vals[2], YMax: vals[3]}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
