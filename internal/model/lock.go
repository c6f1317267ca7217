package model

import "time"

// Lock is an advisory lock on a named resource with a fixed expiry.
type Lock struct {
	Resource   string    `json:"resource" yaml:"resource"`
	Holder     string    `json:"holder" yaml:"holder"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

// Expired reports whether the lock is no longer live at now.
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
