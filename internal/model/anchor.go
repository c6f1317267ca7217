package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Anchor is a manually promoted, durable identity snapshot keyed by content.
type Anchor struct {
	ID        string    `json:"id" yaml:"id"`
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Vector    []float32 `json:"-" yaml:"-"`
}

// AnchorID returns the content hash identifying an anchor with the given text.
// Surrounding whitespace does not change the identity.
func AnchorID(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
