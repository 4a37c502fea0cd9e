// Package docstore is a small document store keyed by collection and key.
// Documents are JSON objects; the only cross-document guarantees are the
// per-collection dedup key and the atomic Apply mutation.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate document")
)

// Snapshot is a stored document.
type Snapshot struct {
	Key  string
	Data json.RawMessage
}

// Decode unmarshals the document into out.
func (s Snapshot) Decode(out any) error {
	return json.Unmarshal(s.Data, out)
}

// Query selects documents of one collection in key order.
type Query struct {
	// Field and Equals filter on a top-level string field when Field is set.
	Field      string
	Equals     string
	Descending bool
	Limit      int
}

// Mutation is applied atomically to a single document. Create is only
// written when the document does not exist yet; Set always overwrites the
// named fields; Increment adds to numeric fields, treating missing ones as 0
// (and as the starting value on create).
type Mutation struct {
	Create    map[string]any
	Set       map[string]any
	Increment map[string]int64
}

// InitialDocument is the document written when Apply creates it.
func (m Mutation) InitialDocument() map[string]any {
	doc := make(map[string]any, len(m.Create)+len(m.Set)+len(m.Increment))
	maps.Copy(doc, m.Create)
	maps.Copy(doc, m.Set)
	for field, delta := range m.Increment {
		doc[field] = delta
	}
	return doc
}

// IncrementFields returns the increment field names in a stable order.
func (m Mutation) IncrementFields() []string {
	fields := make([]string, 0, len(m.Increment))
	for field := range m.Increment {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

type PushOptions struct {
	DedupKey string
}

type PushOption func(*PushOptions)

// WithDedupKey rejects the push with ErrDuplicate when a document of the
// same collection was already pushed with key.
func WithDedupKey(key string) PushOption {
	return func(o *PushOptions) {
		o.DedupKey = key
	}
}

func ApplyPushOptions(opts []PushOption) PushOptions {
	var out PushOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

type Store interface {
	// Push stores doc under a new time-ordered key and returns the key.
	Push(ctx context.Context, collection string, doc any, opts ...PushOption) (string, error)
	Get(ctx context.Context, collection, key string) (Snapshot, error)
	// Set creates or replaces the document.
	Set(ctx context.Context, collection, key string, doc any) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, key string, fields map[string]any) error
	Apply(ctx context.Context, collection, key string, m Mutation) (Snapshot, error)
	Delete(ctx context.Context, collection, key string) error
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	// LookupDedup returns the key of the document pushed with dedupKey.
	LookupDedup(ctx context.Context, collection, dedupKey string) (string, error)
	Close() error
}

// NewKey returns a UUIDv7 string, so lexical key order follows creation order.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MarshalDocument encodes doc and checks that it is a JSON object.
func MarshalDocument(doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("document must encode to a JSON object")
	}
	return raw, nil
}
