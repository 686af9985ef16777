package session

import (
	"github.com/google/uuid"

	"github.com/redactly/redactly/internal/geometry"
)

// Kind distinguishes the two shapes of detected regions.
type Kind string

const (
	KindPII       Kind = "pii"
	KindSignature Kind = "signature"
)

// Entity is a detected region of interest. Identity is assigned once, when
// the detection result is ingested, and never changes for the lifetime of
// the session.
type Entity struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Type is the free-form PII subtype (NAME, EMAIL, PHONE_NUMBER, ...) or
	// the fixed value "SIGNATURE".
	Type string               `json:"type"`
	Text string               `json:"text"`
	Box  geometry.BoundingBox `json:"boundingBox"`
}

// NewPIIEntity builds an entity for a detected PII span.
func NewPIIEntity(piiType, text string, box geometry.BoundingBox) Entity {
	return Entity{
		ID:   uuid.NewString(),
		Kind: KindPII,
		Type: piiType,
		Text: text,
		Box:  box,
	}
}

// NewSignatureEntity builds an entity for a detected signature region.
func NewSignatureEntity(box geometry.BoundingBox) Entity {
	return Entity{
		ID:   uuid.NewString(),
		Kind: KindSignature,
		Type: "SIGNATURE",
		Text: "Signature",
		Box:  box,
	}
}

// SelectionSet is the set of entity identifiers marked for redaction.
// All operations are pure: they return a new set and never mutate the
// receiver, so holders of a snapshot are never surprised by concurrent edits.
type SelectionSet map[string]struct{}

// NewSelectionSet builds a set containing the given ids.
func NewSelectionSet(ids ...string) SelectionSet {
	s := make(SelectionSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is selected.
func (s SelectionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Toggle returns a copy of the set with id flipped. Toggling twice is a
// no-op.
func (s SelectionSet) Toggle(id string) SelectionSet {
	out := s.clone()
	if _, ok := out[id]; ok {
		delete(out, id)
	} else {
		out[id] = struct{}{}
	}
	return out
}

// Add returns a copy of the set with the given ids included.
func (s SelectionSet) Add(ids ...string) SelectionSet {
	out := s.clone()
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Remove returns a copy of the set with the given ids excluded.
func (s SelectionSet) Remove(ids ...string) SelectionSet {
	out := s.clone()
	for _, id := range ids {
		delete(out, id)
	}
	return out
}

// IDs returns the selected ids in unspecified order.
func (s SelectionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

func (s SelectionSet) clone() SelectionSet {
	out := make(SelectionSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
