package roomcode

import (
	"math/big"
	"regexp"
	"testing"
)

// Minting must always produce a canonical, re-parseable code whose seed is
// a multiple of 7.
func TestCreateRoundTrip(t *testing.T) {
	pattern := regexp.MustCompile(`^U/[0-9A-HJ-NP-Z]{4}(-[0-9A-HJ-NP-Z]{4}){3}$`)

	for i := 0; i < 1000; i++ {
		room, err := Create()
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if new(big.Int).Mod(room.Seed, big7).Sign() != 0 {
			t.Fatalf("seed %v not a multiple of 7", room.Seed)
		}
		if !pattern.MatchString(room.Code) {
			t.Fatalf("code %q does not match canonical pattern", room.Code)
		}

		parsed, err := From(room.Code)
		if err != nil {
			t.Fatalf("From(%q): %v", room.Code, err)
		}
		if parsed.Seed.Cmp(room.Seed) != 0 {
			t.Fatalf("round trip mismatch: minted %v, parsed %v", room.Seed, parsed.Seed)
		}
	}
}

// Legacy parse with a chosen checksum digit.
func TestParseLegacy(t *testing.T) {
	// digits for "ABCDE FGHJK LMNPQ 01234 5678?" with ? the checksum.
	raw := "ABCDEFGHJKLMNPQ012345678"
	sum := 0
	for _, c := range raw {
		idx, ok := lookup34(byte(c))
		if !ok {
			t.Fatalf("bad fixture char %q", c)
		}
		sum = (sum + idx) % 34
	}
	checksumChar := string(alphabet[sum])
	code := "ABCDE-FGHJK-LMNPQ-01234-5678" + checksumChar

	room, err := From(code)
	if err != nil {
		t.Fatalf("From(%q): %v", code, err)
	}
	if room.Kind != Legacy {
		t.Fatalf("expected Legacy, got %v", room.Kind)
	}
	if room.NetworkName != "terracotta-mc-abcdefghjklmnpq" {
		t.Fatalf("unexpected network name %q", room.NetworkName)
	}
	wantSecret := "01234" + "5678" + toLowerStr(checksumChar)
	if room.NetworkSecret != wantSecret {
		t.Fatalf("unexpected network secret %q, want %q", room.NetworkSecret, wantSecret)
	}
}

func toLowerStr(s string) string {
	b := []byte(s)
	for i, c := range b {
		b[i] = toLowerASCII(c)
	}
	return string(b)
}

func TestParseLegacyRejectsBadChecksum(t *testing.T) {
	_, err := From("ABCDE-FGHJK-LMNPQ-01234-56789")
	if err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	}
}

func encodeThird(value uint64) string {
	var buf []byte
	for value > 0 {
		buf = append([]byte{thirdAlphabet[value%32]}, buf...)
		value /= 32
	}
	return string(buf)
}

func TestParseThird(t *testing.T) {
	cases := []struct {
		value      uint64
		wantName   string
		wantSecret string
		wantPort   uint16
	}{
		// 14 decimal digits: port is the low 4.
		{12345678901234, "PCLCELobby12345678", "PCLCEETLOBBY202590", 1234},
		// 15 decimal digits: port is the low 5.
		{123456789012345, "PCLCELobby12345678", "PCLCEETLOBBY202590", 12345},
	}

	for _, tc := range cases {
		code := encodeThird(tc.value)
		room, err := From(code)
		if err != nil {
			t.Fatalf("From(%q): %v", code, err)
		}
		if room.Kind != Third {
			t.Fatalf("expected Third, got %v", room.Kind)
		}
		if room.NetworkName != tc.wantName {
			t.Fatalf("network name = %q, want %q", room.NetworkName, tc.wantName)
		}
		if room.NetworkSecret != tc.wantSecret {
			t.Fatalf("network secret = %q, want %q", room.NetworkSecret, tc.wantSecret)
		}
		if room.McPort != tc.wantPort {
			t.Fatalf("port = %d, want %d", room.McPort, tc.wantPort)
		}
	}
}

func TestParseThirdRejects(t *testing.T) {
	rejects := []uint64{
		999999999965536, // the preserved upstream threshold, exactly
		999999999965537,
		100000000065536, // 15 decimal digits but port field >= 65536
		1234567890123,   // only 13 decimal digits
	}
	for _, value := range rejects {
		if _, ok := parseThird(encodeThird(value)); ok {
			t.Fatalf("parseThird(%d) should have been rejected", value)
		}
	}

	if _, ok := parseThird("22222222222"); ok {
		t.Fatalf("codes longer than 10 symbols should be rejected")
	}
}

func TestFromRejectsGarbage(t *testing.T) {
	if _, err := From("not a room code at all"); err != ErrNoRoom {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
}
