package hitlog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ensureInstanceID loads the ID stored in ~/.hitlog/id, creating it on first use.
// It falls back to an ephemeral ID when the home directory is not writable.
func ensureInstanceID() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString()
	}
	return loadInstanceID(filepath.Join(homeDir, ".hitlog"))
}

func loadInstanceID(dir string) string {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return uuid.NewString()
	}

	idFile := filepath.Join(dir, "id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	newID := uuid.NewString()
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}
