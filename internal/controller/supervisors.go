package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"terracotta/internal/beacon"
	"terracotta/internal/logging"
	"terracotta/internal/nodes"
	"terracotta/internal/overlay"
	"terracotta/internal/ports"
	"terracotta/internal/probe"
	"terracotta/internal/profile"
	"terracotta/internal/roomcode"
	"terracotta/internal/session"
)

// replayServers are the fixed bootstrap/relay nodes every overlay network
// is seeded with, in addition to whatever nodes.Fetch turns up.
var replayServers = []string{
	"tcp://public.easytier.top:11010",
	"tcp://ah.nkbpal.cn:11010",
	"tcp://turn.hb.629957.xyz:11010",
	"tcp://turn.js.629957.xyz:11012",
	"tcp://sh.993555.xyz:11010",
	"tcp://turn.bj.629957.xyz:11010",
	"tcp://et.sh.suhoan.cn:11010",
	"tcp://et-hk.clickor.click:11010",
	"tcp://et.01130328.xyz:11010",
	"tcp://et.gbc.moe:11011",
}

var defaultArguments = []overlay.Argument{
	overlay.Listener("0.0.0.0:0", overlay.UDP),
	overlay.Listener("0.0.0.0:0", overlay.TCP),
	overlay.NoTun,
	overlay.Compression("zstd"),
	overlay.MultiThread,
	overlay.LatencyFirst,
	overlay.EnableKcpProxy,
}

// vendor tags the profiles this implementation announces over c:player_ping.
const vendor = "terracotta"

func relayArguments(seed *roomcode.Room) []overlay.Argument {
	var args []overlay.Argument
	for _, uri := range replayServers {
		args = append(args, overlay.PublicServer(uri))
	}
	if seed.Kind == roomcode.Experimental && seed.Seed != nil {
		for _, uri := range nodes.Fetch(seed.Seed) {
			args = append(args, overlay.PublicServer(uri))
		}
	}
	return append(args, defaultArguments...)
}

const pollInterval = 200 * time.Millisecond

// The scaffolding listener is started exactly once per process and shared
// across every hosted session: try the conventional port first, fall back
// to an OS-assigned one.
var (
	scaffoldingOnce sync.Once
	scaffoldingPort uint16
)

const conventionalScaffoldingPort = 13448

func scaffoldingListenerPort(cell *Cell) uint16 {
	scaffoldingOnce.Do(func() {
		port, err := session.Start(Handlers(cell), conventionalScaffoldingPort)
		if err != nil {
			logging.Warn("Controller", "Scaffolding port %d unavailable, falling back to ephemeral: %v", conventionalScaffoldingPort, err)
			port, err = session.Start(Handlers(cell), 0)
			if err != nil {
				logging.Error("Controller", "Cannot start scaffolding server at all: %v", err)
			}
		}
		scaffoldingPort = port
	})
	return scaffoldingPort
}

// hostScanSupervisor polls the beacon scanner until a local server appears,
// then hands off to startHost. Exits as soon as its capture is invalidated.
func hostScanSupervisor(cell *Cell, cap Capture, cfg Config) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		g, ok := cap.TryCapture(cell)
		if !ok {
			return
		}
		st := g.Value()
		if st.Kind != HostScanning {
			g.Release()
			return
		}
		scanPorts := st.Scanner.Ports()
		g.Release()

		if len(scanPorts) == 0 {
			continue
		}

		startHost(cell, cap, cfg, scanPorts[0])
		return
	}
}

// startHost mints a room, spawns the overlay, installs the shared
// scaffolding handler table and transitions HostScanning→HostStarting→HostOk.
func startHost(cell *Cell, cap Capture, cfg Config, mcPort uint16) {
	room, err := roomcode.Create()
	if err != nil {
		logging.Error("Controller", "Cannot mint room: %v", err)
		abortTo(cell, cap, PingHostFail)
		return
	}

	g, ok := cap.TryCapture(cell)
	if !ok {
		return
	}
	cap = g.Replace(func(st State) State {
		st.Kind = HostStarting
		st.Room = room
		st.Port = mcPort
		return st
	})

	sessionPort := scaffoldingListenerPort(cell)

	args := []overlay.Argument{
		overlay.NetworkName(room.NetworkName),
		overlay.NetworkSecret(room.NetworkSecret),
	}
	args = append(args, relayArguments(&room)...)
	args = append(args,
		overlay.IPv4("10.144.144.1"),
		overlay.HostName(fmt.Sprintf("scaffolding-mc-server-%d", sessionPort)),
		overlay.TcpWhitelist(sessionPort),
		overlay.TcpWhitelist(mcPort),
		overlay.UdpWhitelist(mcPort),
	)

	rpcPort := ports.RequestEphemeral(ports.EasyTierRPC)
	runner, err := overlay.Spawn(cfg.CorePath, cfg.CliPath, args, rpcPort)
	if err != nil {
		logging.Error("Controller", "Cannot spawn overlay: %v", err)
		abortTo(cell, cap, HostOverlayCrash)
		return
	}

	g, ok = cap.TryCapture(cell)
	if !ok {
		runner.Close()
		return
	}
	cap = g.Replace(func(st State) State {
		st.Kind = HostOk
		st.Overlay = runner
		st.HostProfiles = []TrackedProfile{{
			LastSeen: time.Now(),
			Profile: profile.Profile{
				MachineID: cfg.MachineID,
				Name:      cfg.PlayerName,
				Vendor:    vendor,
				Kind:      profile.HOST,
			},
		}}
		return st
	})

	go hostLoop(cell, cap, mcPort)
}

// hostLoop watches the local game port and the overlay process, expires
// stale guest profiles, and aborts into Exception on either failing.
func hostLoop(cell *Cell, cap Capture, mcPort uint16) {
	consecutiveFailures := 0

	for {
		alive := probe.Check(mcPort) // paces itself out to ~5s

		g, ok := cap.TryCapture(cell)
		if !ok {
			return
		}
		st := g.Value()
		if st.Kind != HostOk {
			g.Release()
			return
		}

		if !alive {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}
		if consecutiveFailures >= 3 {
			g.Release()
			abortTo(cell, cap, PingServerRst)
			return
		}

		if !st.Overlay.IsAlive() {
			g.Release()
			abortTo(cell, cap, HostOverlayCrash)
			return
		}

		changed := expireGuests(st)
		if changed {
			cap = g.IncreaseShared()
		} else {
			g.Release()
		}
	}
}

const guestTTL = 10 * time.Second

// expireGuests drops stale GUEST entries in place (never index 0, the
// host's own entry) and reports whether anything was removed.
func expireGuests(st *State) bool {
	if len(st.HostProfiles) <= 1 {
		return false
	}
	now := time.Now()
	kept := st.HostProfiles[:1]
	changed := false
	for _, tp := range st.HostProfiles[1:] {
		if now.Sub(tp.LastSeen) < guestTTL {
			kept = append(kept, tp)
		} else {
			changed = true
		}
	}
	st.HostProfiles = kept
	return changed
}

// abortTo transitions into Exception{kind}, releasing whatever scanner,
// overlay subprocess or fake beacon the departing variant held, mirroring
// releasePrevious's cleanup on the set_waiting path, but for supervisor-
// driven transitions, where nothing else would otherwise close them.
func abortTo(cell *Cell, cap Capture, kind ExceptionKind) {
	g, ok := cap.TryCapture(cell)
	if !ok {
		return
	}
	g.Replace(func(s State) State {
		releasePrevious(s)
		s.Kind = Exception
		s.ExcKind = kind
		return s
	})
}

const (
	hostnameDiscoveryAttempts = 5
	hostnameDiscoveryInterval = 3 * time.Second
	handshakeAttempts         = 60
	handshakeInterval         = 4 * time.Second
)

const hostnamePrefix = "scaffolding-mc-server-"

// guestStarting drives the three GuestLoop stages: hostname discovery,
// fingerprint handshake, and port handoff, spawning the overlay up front
// with a DHCP configuration.
func guestStarting(cell *Cell, cap Capture, room roomcode.Room, cfg Config) {
	args := []overlay.Argument{
		overlay.NetworkName(room.NetworkName),
		overlay.NetworkSecret(room.NetworkSecret),
	}
	args = append(args, relayArguments(&room)...)
	args = append(args, overlay.DHCP)

	rpcPort := ports.RequestEphemeral(ports.EasyTierRPC)
	runner, err := overlay.Spawn(cfg.CorePath, cfg.CliPath, args, rpcPort)
	if err != nil {
		logging.Error("Controller", "Cannot spawn overlay: %v", err)
		abortTo(cell, cap, GuestOverlayCrash)
		return
	}

	g, ok := cap.TryCapture(cell)
	if !ok {
		runner.Close()
		return
	}
	cap = g.Replace(func(st State) State {
		st.Kind = GuestStarting
		st.Overlay = runner
		return st
	})

	hostIP, sessionPort, ok := discoverHost(cell, cap, runner)
	if !ok {
		return
	}

	localA := ports.RequestEphemeral(ports.Scaffolding)
	if !runner.AddPortForwards([]overlay.PortForward{
		{Local: fmt.Sprintf("0.0.0.0:%d", localA), Remote: fmt.Sprintf("%s:%d", hostIP, sessionPort), Proto: overlay.TCP},
	}) {
		abortTo(cell, cap, PingHostFail)
		return
	}

	if !cap.CanCapture(cell) {
		return
	}

	client := handshake(cell, cap, runner, localA)
	if client == nil {
		return
	}

	resp := client.SendSync("c", "server_port", nil)
	if resp == nil || len(resp.Data) != 2 {
		client.Close()
		abortTo(cell, cap, ScaffoldingInvalidResponse)
		return
	}
	gamePort := uint16(resp.Data[0])<<8 | uint16(resp.Data[1])

	localB, ok := ports.RequestSpecific(gamePort)
	if !ok {
		localB = ports.RequestEphemeral(ports.Minecraft)
	}

	forwards := []overlay.PortForward{
		{Local: fmt.Sprintf("0.0.0.0:%d", localB), Remote: fmt.Sprintf("%s:%d", hostIP, gamePort), Proto: overlay.TCP},
		{Local: fmt.Sprintf("[::]:%d", localB), Remote: fmt.Sprintf("%s:%d", hostIP, gamePort), Proto: overlay.TCP},
		{Local: fmt.Sprintf("0.0.0.0:%d", localB), Remote: fmt.Sprintf("%s:%d", hostIP, gamePort), Proto: overlay.UDP},
		{Local: fmt.Sprintf("[::]:%d", localB), Remote: fmt.Sprintf("%s:%d", hostIP, gamePort), Proto: overlay.UDP},
	}
	if !runner.AddPortForwards(forwards) {
		client.Close()
		abortTo(cell, cap, GuestOverlayCrash)
		return
	}

	fake := beacon.NewFake(localB, cfg.MOTD)

	g, ok = cap.TryCapture(cell)
	if !ok {
		fake.Close()
		client.Close()
		return
	}
	cap = g.Replace(func(st State) State {
		st.Kind = GuestOk
		st.Port = localB
		st.Beacon = fake
		st.GuestProfiles = []profile.Profile{{MachineID: cfg.MachineID, Name: cfg.PlayerName, Vendor: vendor, Kind: profile.LOCAL}}
		return st
	})

	go guestSyncLoop(cell, cap, client, localB, cfg)
}

// discoverHost polls overlay.Peers() up to hostnameDiscoveryAttempts times
// looking for the first peer whose hostname carries the session-port
// suffix, aborting to PingHostFail on exhaustion or a dead overlay.
func discoverHost(cell *Cell, cap Capture, runner overlay.Overlay) (hostIP string, sessionPort uint16, ok bool) {
	for i := 0; i < hostnameDiscoveryAttempts; i++ {
		if !runner.IsAlive() {
			abortTo(cell, cap, GuestOverlayCrash)
			return "", 0, false
		}

		for _, peer := range runner.Peers() {
			if peer.IPv4 == "" || !strings.HasPrefix(peer.Hostname, hostnamePrefix) {
				continue
			}
			suffix := strings.TrimPrefix(peer.Hostname, hostnamePrefix)
			if port, err := strconv.ParseUint(suffix, 10, 16); err == nil {
				return peer.IPv4, uint16(port), true
			}
		}

		if !cap.CanCapture(cell) {
			return "", 0, false
		}
		time.Sleep(hostnameDiscoveryInterval)
	}

	abortTo(cell, cap, PingHostFail)
	return "", 0, false
}

// handshake opens a FramedSession to the forwarded scaffolding port and
// retries c:ping with the fingerprint literal until it verifies or attempts
// are exhausted. The fingerprint must echo back byte-for-byte; a mismatched
// session is abandoned and retried fresh. Returns nil after transitioning to
// Exception (or after losing the capture); callers just return.
func handshake(cell *Cell, cap Capture, runner overlay.Overlay, localPort uint16) *session.Client {
	for i := 0; i < handshakeAttempts; i++ {
		if !runner.IsAlive() {
			abortTo(cell, cap, GuestOverlayCrash)
			return nil
		}
		if !cap.CanCapture(cell) {
			return nil
		}

		if client, err := session.Open("127.0.0.1", localPort); err == nil {
			resp := client.SendSync("c", "ping", Fingerprint())
			if resp != nil && bytes.Equal(resp.Data, Fingerprint()) {
				return client
			}
			client.Close()
		}
		time.Sleep(handshakeInterval)
	}

	abortTo(cell, cap, PingHostFail)
	return nil
}

// guestSyncLoop paces on the local game-port probe (which sleeps out ~5s
// per cycle), pings the host with the local profile and reconciles the
// guest's view of the roster from c:player_profiles_list.
func guestSyncLoop(cell *Cell, cap Capture, client *session.Client, localPort uint16, cfg Config) {
	defer client.Close()

	probeFailures := 0
	for {
		alive := probe.Check(localPort)

		g, ok := cap.TryCapture(cell)
		if !ok {
			return
		}
		st := g.Value()
		if st.Kind != GuestOk {
			g.Release()
			return
		}
		overlayAlive := st.Overlay.IsAlive()
		g.Release()

		if !overlayAlive {
			abortTo(cell, cap, GuestOverlayCrash)
			return
		}

		if alive {
			probeFailures = 0
		} else {
			probeFailures++
			if probeFailures >= 3 {
				abortTo(cell, cap, PingHostRst)
				return
			}
		}

		body, _ := json.Marshal(playerPingBody{MachineID: cfg.MachineID, Name: cfg.PlayerName, Vendor: vendor})
		if client.SendSync("c", "player_ping", body) == nil {
			abortTo(cell, cap, PingHostFail)
			return
		}

		resp := client.SendSync("c", "player_profiles_list", nil)
		if resp == nil {
			abortTo(cell, cap, PingHostFail)
			return
		}

		var wire []profile.Wire
		if err := json.Unmarshal(resp.Data, &wire); err != nil {
			abortTo(cell, cap, ScaffoldingInvalidResponse)
			return
		}

		hostCount := 0
		seen := make(map[string]bool, len(wire))
		duplicate := false
		for _, w := range wire {
			if w.Kind == profile.HOST.String() {
				hostCount++
			}
			if seen[w.MachineID] {
				duplicate = true
			}
			seen[w.MachineID] = true
		}
		if hostCount != 1 || duplicate {
			abortTo(cell, cap, ScaffoldingInvalidResponse)
			return
		}

		g, ok = cap.TryCapture(cell)
		if !ok {
			return
		}
		st = g.Value()
		reconciled, valid := reconcileProfiles(st.GuestProfiles, wire, cfg.MachineID)
		if !valid {
			g.Release()
			abortTo(cell, cap, ScaffoldingInvalidResponse)
			return
		}
		if profilesEqual(st.GuestProfiles, reconciled) {
			g.Release()
			continue
		}
		st.GuestProfiles = reconciled
		cap = g.IncreaseShared()
	}
}

// reconcileProfiles rebuilds the guest-visible roster from the host's wire
// list, per the match/update/remove rules:
//   - the existing HOST entry (if any) must match a server HOST of the
//     same machine_id; its name may change, anything else is invalid.
//   - the existing LOCAL entry is always kept untouched.
//   - each existing GUEST is updated if its machine_id still appears as a
//     GUEST on the wire, dropped if absent, and rejected as invalid if its
//     machine_id now names something other than a GUEST.
//   - any wire entry not consumed by the above, and not the local
//     machine_id's own ping registration, is appended as new.
//
// valid is false when the response is internally inconsistent and the
// caller must abort with ScaffoldingInvalidResponse instead of committing.
func reconcileProfiles(existing []profile.Profile, wire []profile.Wire, localMachineID string) (result []profile.Profile, valid bool) {
	byID := make(map[string]profile.Wire, len(wire))
	for _, w := range wire {
		byID[w.MachineID] = w
	}

	var local profile.Profile
	var host *profile.Profile
	var guests []profile.Profile
	for _, p := range existing {
		switch p.Kind {
		case profile.LOCAL:
			local = p
		case profile.HOST:
			h := p
			host = &h
		case profile.GUEST:
			guests = append(guests, p)
		}
	}

	out := []profile.Profile{local}

	if host != nil {
		w, ok := byID[host.MachineID]
		if !ok || w.Kind != profile.HOST.String() {
			return nil, false
		}
		updated := *host
		updated.Name = w.Name
		out = append(out, updated)
		delete(byID, host.MachineID)
	}

	for _, guest := range guests {
		w, ok := byID[guest.MachineID]
		if !ok {
			continue // no longer present on the host: drop
		}
		if w.Kind != profile.GUEST.String() {
			return nil, false
		}
		updated := guest
		updated.Name = w.Name
		out = append(out, updated)
		delete(byID, guest.MachineID)
	}

	delete(byID, localMachineID) // the guest's own c:player_ping registration

	for _, w := range wire {
		if _, remaining := byID[w.MachineID]; !remaining {
			continue
		}
		kind := profile.GUEST
		if w.Kind == profile.HOST.String() {
			kind = profile.HOST
		}
		out = append(out, profile.Profile{
			MachineID: w.MachineID,
			Name:      w.Name,
			Vendor:    w.Vendor,
			Kind:      kind,
		})
		delete(byID, w.MachineID)
	}

	return out, true
}

func profilesEqual(a, b []profile.Profile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
