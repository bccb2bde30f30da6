package cmd

import (
	"strings"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/spf13/pflag"
)

// viewportValue is a pflag.Value for "1680x1080" or "1680x1080x2".
type viewportValue struct {
	v   browser.Viewport
	set bool
}

var _ pflag.Value = (*viewportValue)(nil)

func (f *viewportValue) String() string {
	if !f.set {
		return ""
	}
	return f.v.String()
}

func (f *viewportValue) Set(s string) error {
	v, err := browser.ParseViewport(s)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f *viewportValue) Type() string { return "WxH[xS]" }

// Viewport returns nil when the flag was not given.
func (f *viewportValue) Viewport() *browser.Viewport {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// marginValue is a pflag.Value for CSS style margins such as "20px" or "1cm 2cm".
type marginValue struct {
	raw string
}

var _ pflag.Value = (*marginValue)(nil)

func (f *marginValue) String() string { return f.raw }

func (f *marginValue) Set(s string) error {
	if _, err := export.ParseMargin(s); err != nil {
		return err
	}
	f.raw = strings.TrimSpace(s)
	return nil
}

func (f *marginValue) Type() string { return "margin" }
