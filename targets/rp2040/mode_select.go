//go:build rp2040

package main

// Mode selects what the board does after boot
type Mode uint8

const (
	// ModeBridge executes step link frames sent by the host
	ModeBridge Mode = iota
	// ModeStandalone runs a motion controller on the board itself
	ModeStandalone
)

// modeName is overridden at build time:
//
//	tinygo build -target pico -ldflags "-X main.modeName=standalone"
var modeName = "bridge"

func selectMode() Mode {
	if modeName == "standalone" {
		return ModeStandalone
	}
	return ModeBridge
}
