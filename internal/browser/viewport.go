package browser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidViewport = errors.New("invalid viewport")

type Viewport struct {
	Width  int
	Height int
	// Scale is the device pixel ratio. Zero means 1.
	Scale float64
}

func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidViewport, v.Width, v.Height)
	}
	if v.Scale < 0 {
		return fmt.Errorf("%w: negative scale %g", ErrInvalidViewport, v.Scale)
	}
	return nil
}

func (v Viewport) String() string {
	if v.Scale == 0 || v.Scale == 1 {
		return fmt.Sprintf("%dx%d", v.Width, v.Height)
	}
	return fmt.Sprintf("%dx%dx%s", v.Width, v.Height, strconv.FormatFloat(v.Scale, 'f', -1, 64))
}

// ParseViewport reads "WIDTHxHEIGHT" or "WIDTHxHEIGHTxSCALE", e.g. "1680x1080x2".
func ParseViewport(s string) (Viewport, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 && len(parts) != 3 {
		return Viewport{}, fmt.Errorf("%w: %q, want WIDTHxHEIGHT[xSCALE]", ErrInvalidViewport, s)
	}

	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Viewport{}, fmt.Errorf("%w: width %q", ErrInvalidViewport, parts[0])
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Viewport{}, fmt.Errorf("%w: height %q", ErrInvalidViewport, parts[1])
	}

	v := Viewport{Width: w, Height: h}
	if len(parts) == 3 {
		v.Scale, err = strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Viewport{}, fmt.Errorf("%w: scale %q", ErrInvalidViewport, parts[2])
		}
	}
	return v, v.Validate()
}
