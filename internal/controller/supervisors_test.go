package controller

import (
	"testing"

	"terracotta/internal/profile"
)

const localMachineID = "aaaaaaaaaaaaaaaa"

func TestReconcileProfilesSkipsOwnPingRegistration(t *testing.T) {
	existing := []profile.Profile{{MachineID: localMachineID, Kind: profile.LOCAL}}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "Host", Kind: "HOST"},
		{MachineID: localMachineID, Name: "Me", Vendor: "terracotta", Kind: "GUEST"},
	}

	out, ok := reconcileProfiles(existing, wire, localMachineID)
	if !ok {
		t.Fatalf("expected valid reconcile")
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (LOCAL + HOST, own entry skipped)", len(out))
	}
	if out[0].Kind != profile.LOCAL || out[1].Kind != profile.HOST {
		t.Fatalf("out = %+v, want [LOCAL, HOST]", out)
	}
}

func TestReconcileProfilesAddsNewGuest(t *testing.T) {
	existing := []profile.Profile{
		{MachineID: localMachineID, Kind: profile.LOCAL},
		{MachineID: "hosthosthosthost", Name: "Host", Kind: profile.HOST},
	}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "Host", Kind: "HOST"},
		{MachineID: "guestguestguestg", Name: "Friend", Kind: "GUEST"},
	}

	out, ok := reconcileProfiles(existing, wire, localMachineID)
	if !ok {
		t.Fatalf("expected valid reconcile")
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[2].MachineID != "guestguestguestg" || out[2].Kind != profile.GUEST {
		t.Fatalf("new guest missing: %+v", out)
	}
}

func TestReconcileProfilesDropsGoneGuest(t *testing.T) {
	existing := []profile.Profile{
		{MachineID: localMachineID, Kind: profile.LOCAL},
		{MachineID: "hosthosthosthost", Name: "Host", Kind: profile.HOST},
		{MachineID: "gonegoneGoneGone", Name: "Gone", Kind: profile.GUEST},
	}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "Host", Kind: "HOST"},
	}

	out, ok := reconcileProfiles(existing, wire, localMachineID)
	if !ok {
		t.Fatalf("expected valid reconcile")
	}
	for _, p := range out {
		if p.MachineID == "gonegoneGoneGone" {
			t.Fatalf("expired guest should have been dropped: %+v", out)
		}
	}
}

func TestReconcileProfilesUpdatesHostName(t *testing.T) {
	existing := []profile.Profile{
		{MachineID: localMachineID, Kind: profile.LOCAL},
		{MachineID: "hosthosthosthost", Name: "Old Name", Kind: profile.HOST},
	}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "New Name", Kind: "HOST"},
	}

	out, ok := reconcileProfiles(existing, wire, localMachineID)
	if !ok {
		t.Fatalf("expected valid reconcile")
	}
	if out[1].Name != "New Name" {
		t.Fatalf("host name = %q, want %q", out[1].Name, "New Name")
	}
}

func TestReconcileProfilesRejectsHostBecomingGuest(t *testing.T) {
	existing := []profile.Profile{
		{MachineID: localMachineID, Kind: profile.LOCAL},
		{MachineID: "hosthosthosthost", Name: "Host", Kind: profile.HOST},
	}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "Host", Kind: "GUEST"},
	}

	if _, ok := reconcileProfiles(existing, wire, localMachineID); ok {
		t.Fatalf("expected invalid reconcile when the host's machine_id changes kind")
	}
}

func TestReconcileProfilesRejectsGuestBecomingHost(t *testing.T) {
	existing := []profile.Profile{
		{MachineID: localMachineID, Kind: profile.LOCAL},
		{MachineID: "hosthosthosthost", Name: "Host", Kind: profile.HOST},
		{MachineID: "guestguestguestg", Name: "Friend", Kind: profile.GUEST},
	}
	wire := []profile.Wire{
		{MachineID: "hosthosthosthost", Name: "Host", Kind: "HOST"},
		{MachineID: "guestguestguestg", Name: "Friend", Kind: "HOST"},
	}

	if _, ok := reconcileProfiles(existing, wire, localMachineID); ok {
		t.Fatalf("expected invalid reconcile when a guest's machine_id becomes a host")
	}
}

func TestReconcileProfilesKeepsLocalUntouched(t *testing.T) {
	existing := []profile.Profile{{MachineID: localMachineID, Name: "Me", Kind: profile.LOCAL}}
	wire := []profile.Wire{{MachineID: "hosthosthosthost", Name: "Host", Kind: "HOST"}}

	out, ok := reconcileProfiles(existing, wire, localMachineID)
	if !ok {
		t.Fatalf("expected valid reconcile")
	}
	if out[0] != existing[0] {
		t.Fatalf("local entry changed: %+v want %+v", out[0], existing[0])
	}
}

func TestProfilesEqual(t *testing.T) {
	a := []profile.Profile{{MachineID: "x", Name: "a", Kind: profile.HOST}}
	b := []profile.Profile{{MachineID: "x", Name: "a", Kind: profile.HOST}}
	if !profilesEqual(a, b) {
		t.Fatalf("expected equal")
	}
	b[0].Name = "b"
	if profilesEqual(a, b) {
		t.Fatalf("expected not equal after name change")
	}
}
