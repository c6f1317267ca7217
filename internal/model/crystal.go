package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Crystal is a compressed summary covering the closed turn range [StartSeq, EndSeq]
// of one context.
type Crystal struct {
	ID        string    `json:"id" yaml:"id"`
	Context   string    `json:"context" yaml:"context"`
	StartSeq  int64     `json:"start_seq" yaml:"start_seq"`
	EndSeq    int64     `json:"end_seq" yaml:"end_seq"`
	Summary   string    `json:"summary" yaml:"summary"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Slot      int       `json:"slot" yaml:"slot"`
	Archived  bool      `json:"archived,omitempty" yaml:"archived,omitempty"`
}

// Len returns the number of turns the crystal covers.
func (c Crystal) Len() int64 {
	return c.EndSeq - c.StartSeq + 1
}

// CrystalID returns the content address of a crystal, so a recovered process
// recognizes a range it already summarized.
func CrystalID(context string, start, end int64, summary string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%d\x1f%d\x1f%s", context, start, end, summary)
	return hex.EncodeToString(h.Sum(nil))
}
