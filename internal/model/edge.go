package model

import "time"

// Edge is a subject-predicate-object fact triplet in the fact graph.
// Subject and object are free-text entity references.
type Edge struct {
	ID         string     `json:"id" yaml:"id"`
	Subject    string     `json:"subject" yaml:"subject"`
	Predicate  string     `json:"predicate" yaml:"predicate"`
	Object     string     `json:"object" yaml:"object"`
	ValidAt    *time.Time `json:"valid_at,omitempty" yaml:"valid_at,omitempty"` // nil means a timeless fact
	Provenance string     `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
}
