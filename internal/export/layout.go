package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlfredBerg/rod-capture/internal/browser"
)

// PageSize holds paper dimensions in inches.
type PageSize struct {
	Width  float64
	Height float64
}

// Paper formats understood by the layout, by lower-cased keyword.
var paperSizes = map[string]PageSize{
	"letter":  {Width: 8.5, Height: 11},
	"legal":   {Width: 8.5, Height: 14},
	"tabloid": {Width: 11, Height: 17},
	"ledger":  {Width: 17, Height: 11},
	"a0":      {Width: 33.1, Height: 46.8},
	"a1":      {Width: 23.4, Height: 33.1},
	"a2":      {Width: 16.54, Height: 23.4},
	"a3":      {Width: 11.7, Height: 16.54},
	"a4":      {Width: 8.27, Height: 11.7},
	"a5":      {Width: 5.83, Height: 8.27},
	"a6":      {Width: 4.13, Height: 5.83},
}

const defaultPaper = "letter"

// LookupPaper resolves a paper keyword such as "A2" or "letter".
func LookupPaper(keyword string) (PageSize, error) {
	size, ok := paperSizes[strings.ToLower(strings.TrimSpace(keyword))]
	if !ok {
		return PageSize{}, fmt.Errorf("%w: unknown paper size %q", ErrUnsupportedLayout, keyword)
	}
	return size, nil
}

// Margin holds page margins in inches.
type Margin struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

func UniformMargin(in float64) Margin {
	return Margin{Top: in, Right: in, Bottom: in, Left: in}
}

// Units per inch for ParseLength. Bare numbers are CSS pixels.
var unitsPerInch = map[string]float64{
	"px": 96,
	"in": 1,
	"cm": 2.54,
	"mm": 25.4,
}

// ParseLength converts "20px", "1cm", "10mm", "0.5in" or "20" into inches.
func ParseLength(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty length", ErrUnsupportedLayout)
	}

	unit := "px"
	for u := range unitsPerInch {
		if strings.HasSuffix(s, u) {
			unit = u
			s = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad length %q", ErrUnsupportedLayout, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative length %q", ErrUnsupportedLayout, s)
	}
	return v / unitsPerInch[unit], nil
}

// ParseMargin accepts CSS-style shorthand with one, two or four lengths
// separated by commas or spaces: "20px", "1cm 2cm", "10,20,10,20".
func ParseMargin(s string) (Margin, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })

	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := ParseLength(f)
		if err != nil {
			return Margin{}, err
		}
		vals = append(vals, v)
	}

	switch len(vals) {
	case 1:
		return UniformMargin(vals[0]), nil
	case 2:
		return Margin{Top: vals[0], Right: vals[1], Bottom: vals[0], Left: vals[1]}, nil
	case 4:
		return Margin{Top: vals[0], Right: vals[1], Bottom: vals[2], Left: vals[3]}, nil
	default:
		return Margin{}, fmt.Errorf("%w: margin %q needs 1, 2 or 4 values", ErrUnsupportedLayout, s)
	}
}

// Layout controls PDF rendering. A Layout on a PNG job is rejected when the
// job is built.
type Layout struct {
	// Paper is a keyword such as "A2", "A4" or "Letter". Empty means Letter.
	Paper           string
	Margin          Margin
	PrintBackground bool
	Landscape       bool
	// Scale of the webpage rendering, 0.1 to 2. Zero means 1.
	Scale float64
}

func (l Layout) validate() error {
	paper := l.Paper
	if paper == "" {
		paper = defaultPaper
	}
	if _, err := LookupPaper(paper); err != nil {
		return err
	}
	if l.Scale != 0 && (l.Scale < 0.1 || l.Scale > 2) {
		return fmt.Errorf("%w: scale %g outside 0.1..2", ErrUnsupportedLayout, l.Scale)
	}
	m := l.Margin
	if m.Top < 0 || m.Right < 0 || m.Bottom < 0 || m.Left < 0 {
		return fmt.Errorf("%w: negative margin", ErrUnsupportedLayout)
	}
	return nil
}

// pdfOptions resolves the layout into printToPDF parameters.
func (l Layout) pdfOptions() browser.PDFOptions {
	paper := l.Paper
	if paper == "" {
		paper = defaultPaper
	}
	size, _ := LookupPaper(paper)

	scale := l.Scale
	if scale == 0 {
		scale = 1
	}

	return browser.PDFOptions{
		PaperWidth:      size.Width,
		PaperHeight:     size.Height,
		MarginTop:       l.Margin.Top,
		MarginRight:     l.Margin.Right,
		MarginBottom:    l.Margin.Bottom,
		MarginLeft:      l.Margin.Left,
		Scale:           scale,
		Landscape:       l.Landscape,
		PrintBackground: l.PrintBackground,
	}
}
