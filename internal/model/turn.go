// Package model defines the core persistence data types shared by every layer.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role says which side of an interaction produced a turn.
type Role string

const (
	RoleOriginator Role = "originator"
	RoleResponder  Role = "responder"
)

// ParseRole accepts the canonical role names and the common chat aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "originator", "user", "human":
		return RoleOriginator, nil
	case "responder", "assistant", "agent":
		return RoleResponder, nil
	}
	return "", fmt.Errorf("invalid role %q (valid: originator, responder)", s)
}

// Turn is one atomic captured interaction event. Turns are immutable once appended.
type Turn struct {
	ID        int64     `json:"id" yaml:"id"`
	Seq       int64     `json:"seq" yaml:"seq"`
	Context   string    `json:"context" yaml:"context"`
	Role      Role      `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
