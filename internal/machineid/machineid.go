// Package machineid persists and restores the 16-byte random identity a
// Terracotta install uses in player profiles.
package machineid

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"

	"terracotta/internal/logging"
)

const fileName = "machine-id"

// Load reads <dir>/machine-id, generating it on first run. If the file's
// length is wrong it is rewritten and a warning is logged.
func Load(dir string) (string, error) {
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if err == nil && len(data) == 16 {
		return hex.EncodeToString(data), nil
	}
	if err == nil {
		logging.Warn("MachineId", "machine-id file has unexpected length %d, regenerating.", len(data))
	}

	id, genErr := uuid.NewV4()
	if genErr != nil {
		return "", genErr
	}
	bytes := id.Bytes()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, bytes, 0o600); err != nil {
		return "", err
	}

	return hex.EncodeToString(bytes), nil
}
