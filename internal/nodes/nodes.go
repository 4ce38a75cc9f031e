// Package nodes implements the PublicNodeFetcher: fetch the community
// relay-node index, filter and deterministically shuffle it seeded by the
// room's Experimental seed, and always fall back to a static list on
// error.
package nodes

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/chacha20"

	"terracotta/internal/logging"
)

const indexURL = "https://uptime.easytier.cn/api/nodes?is_active=true&page=1&per_page=500&tags=MC%E4%B8%AD%E7%BB%A7"

// FallbackServers is always appended to a fetched list, and returned alone
// on any fetch error.
var FallbackServers = []string{
	"tcp://public.easytier.top:11010",
	"tcp://public2.easytier.cn:54321",
}

const shuffleLimit = 5

type nodeRecord struct {
	Address    string `json:"address"`
	AllowRelay bool   `json:"allow_relay"`
	IsActive   bool   `json:"is_active"`
}

type nodesResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []nodeRecord `json:"items"`
	} `json:"data"`
}

// fetchCache holds successful index fetches for a few minutes so a session
// restart against the same room doesn't hammer the index; errors are never
// cached, so recovery is immediate.
var fetchCache = gocache.New(5*time.Minute, 10*time.Minute)

// Fetch returns a deterministic, seed-shuffled subset (at most 5) of
// relay nodes allowing relay and currently active, with FallbackServers
// always appended. On any fetch/parse error it returns FallbackServers
// alone.
func Fetch(seed *big.Int) []string {
	key := seed.String()
	if cached, found := fetchCache.Get(key); found {
		return append([]string(nil), cached.([]string)...)
	}

	servers, err := fetchInner(seed)
	if err != nil {
		logging.Warn("RoomExperiment", "Cannot fetch EasyTier public nodes: %v.", err)
		out := make([]string, len(FallbackServers))
		copy(out, FallbackServers)
		return out
	}

	fetchCache.Set(key, servers, gocache.DefaultExpiration)
	return append([]string(nil), servers...)
}

func fetchInner(seed *big.Int) ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Terracotta")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed nodesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, errInvalidResponse
	}

	fallbackSet := make(map[string]bool, len(FallbackServers))
	for _, f := range FallbackServers {
		fallbackSet[f] = true
	}

	var servers []string
	for _, item := range parsed.Data.Items {
		if item.AllowRelay && item.IsActive && !fallbackSet[item.Address] {
			servers = append(servers, item.Address)
		}
	}

	if len(servers) > shuffleLimit {
		shuffle(servers, seed)
		servers = servers[:shuffleLimit]
	}

	servers = append(servers, FallbackServers...)
	return servers, nil
}

var errInvalidResponse = &fetchError{"node index response was not successful"}

type fetchError struct{ msg string }

func (e *fetchError) Error() string { return e.msg }

// shuffle performs a Fisher-Yates shuffle driven by a ChaCha12-equivalent
// keystream seeded from the room's 128-bit seed placed big-endian into the
// low 16 bytes of a 32-byte key. Go's standard library and this pack have
// no ChaCha12 RNG; golang.org/x/crypto/chacha20 is the closest ecosystem
// primitive, so the shuffle draws uniform indices from its keystream
// instead of from a dedicated RNG type.
func shuffle(servers []string, seed *big.Int) {
	var key [32]byte
	seed.FillBytes(key[16:32])

	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return
	}

	stream := make([]byte, len(servers)*4)
	cipher.XORKeyStream(stream, stream)

	draw := func(i int) uint32 {
		b := stream[i*4 : i*4+4]
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}

	for i := len(servers) - 1; i >= 1; i-- {
		j := int(draw(i) % uint32(i+1))
		servers[i], servers[j] = servers[j], servers[i]
	}
}
