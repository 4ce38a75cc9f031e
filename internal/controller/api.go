package controller

import (
	"terracotta/internal/beacon"
	"terracotta/internal/logging"
	"terracotta/internal/roomcode"
)

// Config carries the few external knobs the supervisors need: the MOTD
// Terracotta's own fake beacons advertise (and filter out when scanning),
// the local player's display name, and the binaries the overlay runner
// spawns.
type Config struct {
	MOTD       string
	PlayerName string
	CorePath   string
	CliPath    string
	DataDir    string
	MachineID  string
}

// SetWaiting transitions any state to Waiting, releasing whatever the
// departing variant owned. Applied twice it is a no-op on the second call:
// the index only advances the first time.
func SetWaiting(cell *Cell) {
	g := cell.Acquire()
	if g.Value().Kind == Waiting {
		g.Release()
		return
	}
	releasePrevious(*g.Value())
	g.Set(State{Kind: Waiting})
}

// SetScanning transitions Waiting→HostScanning and starts the
// HostScanSupervisor. No-op if not currently Waiting.
func SetScanning(cell *Cell, cfg Config) bool {
	g := cell.Acquire()
	if g.Value().Kind != Waiting {
		g.Release()
		return false
	}

	filter := func(motd string) bool { return motd != cfg.MOTD }
	scanner, err := beacon.NewScanner(filter)
	if err != nil {
		g.Release()
		logging.Error("Controller", "Cannot start beacon scanner: %v", err)
		return false
	}

	cap := g.Set(State{Kind: HostScanning, Scanner: scanner})
	go hostScanSupervisor(cell, cap, cfg)
	return true
}

// SetGuesting transitions Waiting→GuestConnecting on a parsed room code
// and starts the guest supervisor chain. No-op if not currently Waiting or
// if code does not parse as a Room.
func SetGuesting(cell *Cell, code string, cfg Config) bool {
	room, err := roomcode.From(code)
	if err != nil {
		return false
	}

	g := cell.Acquire()
	if g.Value().Kind != Waiting {
		g.Release()
		return false
	}

	cap := g.Set(State{Kind: GuestConnecting, Room: room})
	go guestStarting(cell, cap, room, cfg)
	return true
}

// releasePrevious tears down the resources a departing state variant owns:
// the scanner socket, the overlay subprocess, and the fake beacon.
func releasePrevious(st State) {
	if st.Scanner != nil {
		st.Scanner.Close()
	}
	if st.Overlay != nil {
		st.Overlay.Close()
	}
	if st.Beacon != nil {
		st.Beacon.Close()
	}
}
