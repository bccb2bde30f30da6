package browser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownDevice = errors.New("unknown device")

// Device describes a handset or tablet to emulate: metrics, touch and user agent.
type Device struct {
	Name      string
	Width     int
	Height    int
	Scale     float64
	Mobile    bool
	Touch     bool
	UserAgent string
}

func (d Device) Viewport() Viewport {
	return Viewport{Width: d.Width, Height: d.Height, Scale: d.Scale}
}

const (
	iosSafariUA     = "Mozilla/5.0 (iPhone; CPU iPhone OS 13_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.1 Mobile/15E148 Safari/604.1"
	iosSafari11UA   = "Mozilla/5.0 (iPhone; CPU iPhone OS 11_0 like Mac OS X) AppleWebKit/604.1.38 (KHTML, like Gecko) Version/11.0 Mobile/15A372 Safari/604.1"
	ipadSafariUA    = "Mozilla/5.0 (iPad; CPU OS 11_0 like Mac OS X) AppleWebKit/604.1.34 (KHTML, like Gecko) Version/11.0 Mobile/15A5341f Safari/604.1"
	androidChromeUA = "Mozilla/5.0 (Linux; Android 8.0; Pixel 2 Build/OPD3.170816.012) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/75.0.3765.0 Mobile Safari/537.36"
)

var devices = []Device{
	{Name: "iPhone 11 Pro Max", Width: 414, Height: 896, Scale: 3, Mobile: true, Touch: true, UserAgent: iosSafariUA},
	{Name: "iPhone 11 Pro", Width: 375, Height: 812, Scale: 3, Mobile: true, Touch: true, UserAgent: iosSafariUA},
	{Name: "iPhone 11", Width: 414, Height: 828, Scale: 2, Mobile: true, Touch: true, UserAgent: iosSafariUA},
	{Name: "iPhone X", Width: 375, Height: 812, Scale: 3, Mobile: true, Touch: true, UserAgent: iosSafari11UA},
	{Name: "iPad", Width: 768, Height: 1024, Scale: 2, Mobile: true, Touch: true, UserAgent: ipadSafariUA},
	{Name: "Pixel 2", Width: 411, Height: 731, Scale: 2.625, Mobile: true, Touch: true, UserAgent: androidChromeUA},
}

func deviceKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

// LookupDevice finds a device by name. Case and whitespace are ignored,
// so "iphone11promax" matches "iPhone 11 Pro Max".
func LookupDevice(name string) (Device, error) {
	key := deviceKey(name)
	for _, d := range devices {
		if deviceKey(d.Name) == key {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
}

func DeviceNames() []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
