package task

import (
	"github.com/google/uuid"
)

// Meta is the identity and lineage every spec carries.
type Meta struct {
	ID string `json:"id"`

	// ParentID is set if and only if the spec was produced by narrowing.
	ParentID *string `json:"parentId"`

	// OriginatingTaskID points at the root of the continuation chain.
	OriginatingTaskID *string `json:"originatingTaskId"`
}

// Lineage returns m. Family specs embed Meta and so satisfy Spec.
func (m Meta) Lineage() Meta {
	return m
}

// Spec is an immutable description of one unit of search work.
type Spec interface {
	Lineage() Meta
}

// NewID returns a fresh spec id.
func NewID() string {
	return uuid.New().String()
}

// RootMeta returns the lineage of a freshly seeded spec.
func RootMeta() Meta {
	return Meta{ID: NewID()}
}

// ContinuationOf returns the lineage for the page after the spec with lineage
// m. cursor is that spec's own start cursor: a nil cursor marks the chain
// root, whose id becomes the originating task of the new page. Otherwise the
// originating task is inherited, which keeps chains one hop deep.
func ContinuationOf(m Meta, cursor *string) Meta {
	origin := m.OriginatingTaskID
	if cursor == nil {
		origin = &m.ID
	}
	return Meta{
		ID:                NewID(),
		OriginatingTaskID: cloneString(origin),
	}
}

// ChildOf returns the lineage of a narrowed-down child of the spec with
// lineage m.
func ChildOf(m Meta) Meta {
	return Meta{
		ID:                NewID(),
		ParentID:          cloneString(&m.ID),
		OriginatingTaskID: cloneString(m.OriginatingTaskID),
	}
}

// IDs returns the ids of specs in order.
func IDs[S Spec](specs []S) []string {
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.Lineage().ID
	}
	return ids
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns *s, or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
