package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Digest returns a stable hex-encoded SHA-256 of the config's canonical
// JSON encoding, so a worker can cheaply detect that the cluster config
// changed between registrations and re-fetch it.
func (c *CoordinatorConfig) Digest() (string, error) {
	canonical, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
