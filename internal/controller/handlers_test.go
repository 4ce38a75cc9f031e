package controller

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"terracotta/internal/profile"
	"terracotta/internal/session"
)

const hostMachineID = "cccccccccccccccc"

func hostOkCell() *Cell {
	cell := NewCell()
	g := cell.Acquire()
	g.Set(State{
		Kind: HostOk,
		Port: 25565,
		HostProfiles: []TrackedProfile{{
			LastSeen: time.Now(),
			Profile:  profile.Profile{MachineID: hostMachineID, Name: "Host", Vendor: vendor, Kind: profile.HOST},
		}},
	})
	return cell
}

func TestHandlePingEchoes(t *testing.T) {
	resp, err := handlePing(Fingerprint())
	if err != nil {
		t.Fatalf("handlePing: %v", err)
	}
	if !resp.Ok || !bytes.Equal(resp.Data, Fingerprint()) {
		t.Fatalf("resp = %+v, want fingerprint echo", resp)
	}
}

func TestHandleServerPortRequiresHostOk(t *testing.T) {
	cell := NewCell()
	resp, err := handleServerPort(cell)(nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if resp.Ok || resp.Status != session.StatusInvalidState {
		t.Fatalf("resp = %+v, want Fail{32}", resp)
	}
}

func TestHandleServerPortReturnsBigEndianPort(t *testing.T) {
	cell := hostOkCell()
	resp, err := handleServerPort(cell)(nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !resp.Ok || len(resp.Data) != 2 {
		t.Fatalf("resp = %+v, want 2-byte payload", resp)
	}
	if got := uint16(resp.Data[0])<<8 | uint16(resp.Data[1]); got != 25565 {
		t.Fatalf("port = %d, want 25565", got)
	}
}

func pingBody(t *testing.T, machineID, name string) []byte {
	t.Helper()
	body, err := json.Marshal(playerPingBody{MachineID: machineID, Name: name, Vendor: vendor})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestHandlePlayerPingAppendsNewGuest(t *testing.T) {
	cell := hostOkCell()
	before, _ := cell.Index()

	resp, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Friend"))
	if err != nil || !resp.Ok {
		t.Fatalf("resp = %+v, err = %v", resp, err)
	}

	g := cell.Acquire()
	defer g.Release()
	profiles := g.Value().HostProfiles
	if len(profiles) != 2 || profiles[1].Profile.Kind != profile.GUEST {
		t.Fatalf("profiles = %+v, want appended GUEST", profiles)
	}

	index, sharing := g.Index()
	if index != before+1 || sharing == 0 {
		t.Fatalf("append should be a shared bump: index %d→%d, sharing %d", before, index, sharing)
	}
}

func TestHandlePlayerPingRefreshDoesNotBump(t *testing.T) {
	cell := hostOkCell()
	if _, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Friend")); err != nil {
		t.Fatalf("first ping: %v", err)
	}
	before, _ := cell.Index()

	if _, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Friend")); err != nil {
		t.Fatalf("second ping: %v", err)
	}
	after, _ := cell.Index()
	if after != before {
		t.Fatalf("pure last_seen refresh must not bump the index: %d → %d", before, after)
	}
}

func TestHandlePlayerPingNameChangeBumpsShared(t *testing.T) {
	cell := hostOkCell()
	if _, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Friend")); err != nil {
		t.Fatalf("first ping: %v", err)
	}
	before, beforeSharing := cell.Index()

	if _, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Renamed")); err != nil {
		t.Fatalf("rename ping: %v", err)
	}
	after, afterSharing := cell.Index()
	if after != before+1 || afterSharing != beforeSharing+1 {
		t.Fatalf("rename should be a shared bump: index %d→%d, sharing %d→%d", before, after, beforeSharing, afterSharing)
	}
}

func TestHandlePlayerPingRejectsHostMachineID(t *testing.T) {
	cell := hostOkCell()
	if _, err := handlePlayerPing(cell)(pingBody(t, hostMachineID, "Impostor")); err == nil {
		t.Fatalf("ping matching the host's own entry must be rejected")
	}

	g := cell.Acquire()
	defer g.Release()
	if len(g.Value().HostProfiles) != 1 {
		t.Fatalf("rejected ping must not alter the roster")
	}
}

func TestHandlePlayerProfilesListWireShape(t *testing.T) {
	cell := hostOkCell()
	if _, err := handlePlayerPing(cell)(pingBody(t, "dddddddddddddddd", "Friend")); err != nil {
		t.Fatalf("ping: %v", err)
	}

	resp, err := handlePlayerProfilesList(cell)(nil)
	if err != nil || !resp.Ok {
		t.Fatalf("resp = %+v, err = %v", resp, err)
	}

	var wire []profile.Wire
	if err := json.Unmarshal(resp.Data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(wire) != 2 || wire[0].Kind != "HOST" || wire[1].Kind != "GUEST" {
		t.Fatalf("wire = %+v, want [HOST, GUEST]", wire)
	}
}

func TestProtocolsEnumeratesHandlers(t *testing.T) {
	hs := Handlers(NewCell())
	parts := bytes.Split(hs.Protocols(), []byte{0})
	if len(parts) != 5 {
		t.Fatalf("expected 5 protocols, got %d (%q)", len(parts), parts)
	}
	if string(parts[0]) != "c:ping" {
		t.Fatalf("first protocol = %q, want c:ping", parts[0])
	}
}

func TestExpireGuestsKeepsHostEntry(t *testing.T) {
	st := &State{
		Kind: HostOk,
		HostProfiles: []TrackedProfile{
			{LastSeen: time.Now().Add(-time.Minute), Profile: profile.Profile{MachineID: hostMachineID, Kind: profile.HOST}},
			{LastSeen: time.Now().Add(-time.Minute), Profile: profile.Profile{MachineID: "dddddddddddddddd", Kind: profile.GUEST}},
			{LastSeen: time.Now(), Profile: profile.Profile{MachineID: "eeeeeeeeeeeeeeee", Kind: profile.GUEST}},
		},
	}

	if !expireGuests(st) {
		t.Fatalf("expected a stale guest to be expired")
	}
	if len(st.HostProfiles) != 2 {
		t.Fatalf("profiles = %+v, want host + fresh guest", st.HostProfiles)
	}
	if st.HostProfiles[0].Profile.Kind != profile.HOST {
		t.Fatalf("index 0 must remain the host")
	}

	if expireGuests(st) {
		t.Fatalf("second sweep should find nothing to expire")
	}
}

func TestSetWaitingTwiceBumpsOnce(t *testing.T) {
	cell := NewCell()
	g := cell.Acquire()
	g.Set(State{Kind: Exception, ExcKind: PingHostFail})

	SetWaiting(cell)
	first, _ := cell.Index()
	SetWaiting(cell)
	second, _ := cell.Index()
	if second != first {
		t.Fatalf("second SetWaiting must be a no-op: index %d → %d", first, second)
	}
}
