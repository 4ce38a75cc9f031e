package beacon

import (
	"testing"

	gocache "github.com/patrickmn/go-cache"
)

func newTestScanner() *Scanner {
	return &Scanner{ports: gocache.New(entryTTL, entryTTL), stopCh: make(chan struct{})}
}

func TestExtractBetween(t *testing.T) {
	text := "[MOTD]A Cool Server[/MOTD][AD]25565[/AD]"

	motd, ok := extractBetween(text, motdOpen, motdClose)
	if !ok || motd != "A Cool Server" {
		t.Fatalf("motd = %q, ok=%v", motd, ok)
	}

	ad, ok := extractBetween(text, adOpen, adClose)
	if !ok || ad != "25565" {
		t.Fatalf("ad = %q, ok=%v", ad, ok)
	}
}

func TestExtractBetweenMissingTags(t *testing.T) {
	if _, ok := extractBetween("garbage", motdOpen, motdClose); ok {
		t.Fatalf("expected no match")
	}
}

func TestHandleDatagramDiscoversAndExpires(t *testing.T) {
	s := newTestScanner()
	filter := func(motd string) bool { return motd != "Terracotta" }

	s.handleDatagram([]byte("[MOTD]Friend's World[/MOTD][AD]25565[/AD]"), filter)
	ports := s.Ports()
	if len(ports) != 1 || ports[0] != 25565 {
		t.Fatalf("ports = %v, want [25565]", ports)
	}

	// Re-announcing the same port must not duplicate the entry.
	s.handleDatagram([]byte("[MOTD]Friend's World[/MOTD][AD]25565[/AD]"), filter)
	if len(s.Ports()) != 1 {
		t.Fatalf("expected re-announce not to duplicate")
	}
}

func TestHandleDatagramFiltersOwnBeacon(t *testing.T) {
	s := newTestScanner()
	filter := func(motd string) bool { return motd != "Terracotta" }

	s.handleDatagram([]byte("[MOTD]Terracotta[/MOTD][AD]25565[/AD]"), filter)
	if len(s.Ports()) != 0 {
		t.Fatalf("own beacon should be filtered out")
	}
}

func TestHandleDatagramRejectsZeroPort(t *testing.T) {
	s := newTestScanner()
	filter := func(string) bool { return true }

	s.handleDatagram([]byte("[MOTD]x[/MOTD][AD]0[/AD]"), filter)
	if len(s.Ports()) != 0 {
		t.Fatalf("port 0 should be rejected")
	}
}
