// Package geo implements the coordinate value type and its quantization
// into discrete blocks. A block is the unit of broadcast-group and
// storage-bucket membership: two coordinates that round to the same block
// share one fan-out channel.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Resolution is the number of decimal digits kept when quantizing a
	// coordinate into its block. At 4 digits a block is roughly 11m of
	// latitude.
	Resolution = 4

	// MaxRange is the widest coordinate range a range query may request.
	MaxRange = 10.0
)

var ErrParse = errors.New("malformed geolocation")

// Geoloc is a latitude/longitude pair. The zero value is valid (0,0);
// use IsValid after constructing from untrusted input.
type Geoloc struct {
	Lat  float64
	Long float64
}

// ParseGeoloc parses two decimal strings into a Geoloc. It fails with
// ErrParse on non-numeric input or out-of-range coordinates. The result is
// not quantized; call Block for the bucket form.
func ParseGeoloc(latText, longText string) (Geoloc, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return Geoloc{}, fmt.Errorf("%w: latitude %q", ErrParse, latText)
	}

	long, err := strconv.ParseFloat(strings.TrimSpace(longText), 64)
	if err != nil {
		return Geoloc{}, fmt.Errorf("%w: longitude %q", ErrParse, longText)
	}

	g := Geoloc{Lat: lat, Long: long}
	if !g.IsValid() {
		return Geoloc{}, fmt.Errorf("%w: out of range (%v,%v)", ErrParse, lat, long)
	}
	return g, nil
}

// IsValid reports whether the coordinate lies on the globe.
func (g Geoloc) IsValid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Long >= -180 && g.Long <= 180
}

// Block quantizes both axes to Resolution digits. Quantizing is idempotent:
// a block is its own block.
func (g Geoloc) Block() Geoloc {
	return Geoloc{
		Lat:  roundTo(g.Lat, Resolution),
		Long: roundTo(g.Long, Resolution),
	}
}

// BlockKey returns the canonical string form of the block, used verbatim
// as the broadcast group name. Equal blocks always produce equal keys.
func (g Geoloc) BlockKey() string {
	b := g.Block()
	return formatCoord(b.Lat) + "," + formatCoord(b.Long)
}

func (g Geoloc) String() string {
	return g.BlockKey()
}

// ParseCoordRange parses a range-query width and clamps it to
// [0, MaxRange]. Non-numeric input yields 0 rather than an error.
func ParseCoordRange(text string) float64 {
	r, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(r) {
		return 0
	}

	r = roundTo(r, Resolution)
	if r < 0 {
		return 0
	}
	if r > MaxRange {
		return MaxRange
	}
	return r
}

func roundTo(v float64, digits int) float64 {
	scale := math.Pow10(digits)
	return math.Round(v*scale) / scale
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
