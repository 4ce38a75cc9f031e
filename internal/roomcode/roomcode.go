// Package roomcode implements the three room-code dialects Terracotta
// understands: Experimental, Legacy and the third-party PCL2CE format.
//
// Encoding/decoding is pure and allocation-light; none of it touches the
// network or the state cell. Room.From tries dialects in a fixed order and
// returns the first one that verifies; Create always mints an Experimental
// room.
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Kind identifies which dialect produced a Room.
type Kind int

const (
	Experimental Kind = iota
	Legacy
	Third
)

// Room identifies an overlay session: the human-readable code, the overlay
// network name/secret derived from it, and dialect-specific payload.
type Room struct {
	Code          string
	NetworkName   string
	NetworkSecret string
	Kind          Kind

	// Seed is populated for Experimental rooms: a 128-bit value, always a
	// multiple of 7 (the dialect's syntactic integrity tag).
	Seed *big.Int

	// McPort is populated for Legacy and Third rooms: the game's TCP port.
	McPort uint16
}

const alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// ErrNoRoom is returned (not a typed error condition at call sites; see
// From) when no dialect recognizes the input.
var ErrNoRoom = errors.New("roomcode: no dialect matched")

func aliasChar(c byte) byte {
	switch c {
	case 'I':
		return '1'
	case 'O':
		return '0'
	default:
		return c
	}
}

func lookup34(c byte) (int, bool) {
	c = aliasChar(c)
	idx := strings.IndexByte(alphabet, c)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// From tries the Experimental, Legacy and then Third dialects in that fixed
// order against s; the first dialect that verifies wins. Returns ErrNoRoom
// if none match.
func From(s string) (Room, error) {
	if room, ok := parseExperimental(s); ok {
		return room, nil
	}
	if room, ok := parseLegacy(s); ok {
		return room, nil
	}
	if room, ok := parseThird(s); ok {
		return room, nil
	}
	return Room{}, ErrNoRoom
}

// --- Experimental ---

const experimentalLen = len("U/XXXX-XXXX-XXXX-XXXX")

var big34 = big.NewInt(34)
var big7 = big.NewInt(7)

func parseExperimental(s string) (Room, bool) {
	up := strings.ToUpper(s)
	if len(up) < experimentalLen {
		return Room{}, false
	}

	for start := 0; start+experimentalLen <= len(up); start++ {
		window := up[start : start+experimentalLen]
		if window[0] != 'U' || window[1] != '/' {
			continue
		}
		body := window[2:]
		// 4 groups of 4 symbols, hyphens at 4/9/14.
		if len(body) != 19 || body[4] != '-' || body[9] != '-' || body[14] != '-' {
			continue
		}

		digits := make([]int, 0, 16)
		ok := true
		for i := 0; i < len(body); i++ {
			if i == 4 || i == 9 || i == 14 {
				continue
			}
			d, good := lookup34(body[i])
			if !good {
				ok = false
				break
			}
			digits = append(digits, d)
		}
		if !ok || len(digits) != 16 {
			continue
		}

		value := new(big.Int)
		for _, d := range digits {
			value.Mul(value, big34)
			value.Add(value, big.NewInt(int64(d)))
		}

		mod := new(big.Int).Mod(value, big7)
		if mod.Sign() != 0 {
			continue
		}

		room := roomFromExperimentalValue(value)
		return room, true
	}

	return Room{}, false
}

// roomFromExperimentalValue renders the canonical code, network name and
// secret from a 128-bit value whose 16 base-34 digits split 4/4/4/4: the
// first two groups (8 digits) form network_name, the last two (8 digits)
// form network_secret, per the canonical digit layout.
func roomFromExperimentalValue(value *big.Int) Room {
	digits := make([]int, 16)
	v := new(big.Int).Set(value)
	rem := new(big.Int)
	for i := 15; i >= 0; i-- {
		v.DivMod(v, big34, rem)
		digits[i] = int(rem.Int64())
	}

	var code strings.Builder
	code.WriteString("U/")
	var name strings.Builder
	name.WriteString("scaffolding-mc-")
	var secret strings.Builder

	for i, d := range digits {
		if i > 0 && i%4 == 0 {
			code.WriteByte('-')
		}
		code.WriteByte(alphabet[d])

		switch {
		case i < 4:
			name.WriteByte(alphabet[d])
		case i < 8:
			if i == 4 {
				name.WriteByte('-')
			}
			name.WriteByte(alphabet[d])
		case i < 12:
			secret.WriteByte(alphabet[d])
		default:
			if i == 12 {
				secret.WriteByte('-')
			}
			secret.WriteByte(alphabet[d])
		}
	}

	return Room{
		Code:          code.String(),
		NetworkName:   name.String(),
		NetworkSecret: secret.String(),
		Kind:          Experimental,
		Seed:          new(big.Int).Set(value),
	}
}

// Create mints a fresh Experimental room: 128 random bits, reduced mod
// 34^16 so it fits the 16-digit code, then nudged down to the nearest
// multiple of 7 to satisfy the dialect's integrity tag.
func Create() (Room, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Room{}, fmt.Errorf("roomcode: generating seed: %w", err)
	}
	value := new(big.Int).SetBytes(buf)

	modulus := new(big.Int).Exp(big34, big.NewInt(16), nil)
	value.Mod(value, modulus)

	rem := new(big.Int).Mod(value, big7)
	value.Sub(value, rem)

	return roomFromExperimentalValue(value), nil
}

// --- Legacy ---

const legacyLen = len("ABCDE-FGHJK-LMNPQ-01234-56789")

func parseLegacy(s string) (Room, bool) {
	up := strings.ToUpper(s)
	if len(up) < legacyLen {
		return Room{}, false
	}

	for start := 0; start+legacyLen <= len(up); start++ {
		window := up[start : start+legacyLen]
		if room, ok := parseLegacySegment(window); ok {
			return room, true
		}
	}
	return Room{}, false
}

func parseLegacySegment(window string) (Room, bool) {
	var digits [25]int
	for group := 0; group < 5; group++ {
		base := group * 6
		for j := 0; j < 5; j++ {
			d, ok := lookup34(window[base+j])
			if !ok {
				return Room{}, false
			}
			digits[group*5+j] = d
		}
		if group != 4 && window[base+5] != '-' {
			return Room{}, false
		}
	}

	checksum := 0
	for i := 0; i < 24; i++ {
		checksum = (checksum + digits[i]) % 34
	}
	if checksum != digits[24] {
		return Room{}, false
	}

	var code strings.Builder
	for i := 0; i < 25; i++ {
		code.WriteByte(alphabet[digits[i]])
		if i == 4 || i == 9 || i == 14 || i == 19 {
			code.WriteByte('-')
		}
	}

	name := make([]byte, 15)
	for i := 0; i < 15; i++ {
		name[i] = toLowerASCII(alphabet[digits[i]])
	}
	secret := make([]byte, 10)
	for i := 0; i < 10; i++ {
		secret[i] = toLowerASCII(alphabet[digits[i+15]])
	}

	value := new(big.Int)
	pow := new(big.Int).SetInt64(1)
	for i := 0; i < 25; i++ {
		term := new(big.Int).Mul(pow, big.NewInt(int64(digits[i])))
		value.Add(value, term)
		pow.Mul(pow, big34)
	}
	port := new(big.Int).Mod(value, big.NewInt(65536)).Uint64()

	return Room{
		Code:          code.String(),
		NetworkName:   "terracotta-mc-" + string(name),
		NetworkSecret: string(secret),
		Kind:          Legacy,
		McPort:        uint16(port),
	}, true
}

func toLowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// --- Third-party (PCL2CE) ---

const thirdAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

func lookup32(c byte) (int, bool) {
	c = aliasChar(c)
	idx := strings.IndexByte(thirdAlphabet, c)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// thirdRejectThreshold is preserved bit-for-bit from the upstream
// convention: the literal 99999999_99_65536 (underscores as digit-group
// separators), i.e. the decimal constant 999999999965536. Decoded values at
// or above it are rejected before the decimal digit count is even checked.
const thirdRejectThreshold uint64 = 999999999965536

// parseThird decodes a PCL2CE code: at most 10 base-32 symbols whose decoded
// value, rendered in decimal, must be exactly 14 or 15 digits long. The low
// 4 (or 5) decimal digits carry the game port; the first 8 drive the network
// name and the next 2 the secret suffix.
func parseThird(s string) (Room, bool) {
	up := strings.ToUpper(s)
	if len(up) == 0 || len(up) > 10 {
		return Room{}, false
	}

	var value uint64
	for i := 0; i < len(up); i++ {
		d, ok := lookup32(up[i])
		if !ok {
			return Room{}, false
		}
		value = value*32 + uint64(d)
	}

	if value >= thirdRejectThreshold {
		return Room{}, false
	}

	decimal := strconv.FormatUint(value, 10)
	var port uint64
	switch len(decimal) {
	case 14:
		port = value % 10000
	case 15:
		port = value % 100000
		if port >= 65536 {
			return Room{}, false
		}
	default:
		return Room{}, false
	}

	return Room{
		Code:          up,
		NetworkName:   "PCLCELobby" + decimal[0:8],
		NetworkSecret: "PCLCEETLOBBY2025" + decimal[8:10],
		Kind:          Third,
		McPort:        uint16(port),
	}, true
}
