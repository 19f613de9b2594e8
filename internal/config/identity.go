package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// SystemIdentity attributes system-originated chat messages. It is
// generated once and persisted so the identity survives restarts.
type SystemIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadOrCreateIdentity reads the identity file, generating and saving a
// fresh identity when the file is missing or unreadable.
func LoadOrCreateIdentity(path string) (SystemIdentity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var identity SystemIdentity
		if err := json.Unmarshal(data, &identity); err == nil && identity.ID != "" {
			return identity, nil
		}
	}

	identity := SystemIdentity{
		ID:   uuid.NewString(),
		Name: "System",
	}
	encoded, err := json.Marshal(identity)
	if err != nil {
		return identity, fmt.Errorf("failed to encode system identity: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return identity, fmt.Errorf("failed to save system identity: %w", err)
	}
	return identity, nil
}
