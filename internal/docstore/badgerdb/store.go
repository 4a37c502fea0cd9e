// Package badgerdb implements docstore.Store on an embedded Badger database.
//
// Layout:
//
//	doc:<collection>:<key>        JSON document
//	dedup:<collection>:<dedupKey> document key
package badgerdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/chatrelay/chatrelay/internal/docstore"
)

// maxConflictRetries bounds the optimistic retry loop of Apply and Update.
const maxConflictRetries = 512

type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a database in dir.
func Open(log *slog.Logger, dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(log, db), nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(log, db), nil
}

func New(log *slog.Logger, db *badger.DB) *Store {
	return &Store{
		db:     db,
		logger: log.With(slog.String("component", "docstore_badger")),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func docKey(collection, key string) []byte {
	return []byte("doc:" + collection + ":" + key)
}

func docPrefix(collection string) []byte {
	return []byte("doc:" + collection + ":")
}

func dedupKey(collection, key string) []byte {
	return []byte("dedup:" + collection + ":" + key)
}

func (s *Store) Push(ctx context.Context, collection string, doc any, opts ...docstore.PushOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := docstore.MarshalDocument(doc)
	if err != nil {
		return "", err
	}
	key, err := docstore.NewKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	options := docstore.ApplyPushOptions(opts)
	err = s.update(ctx, func(txn *badger.Txn) error {
		if options.DedupKey != "" {
			dk := dedupKey(collection, options.DedupKey)
			if _, err := txn.Get(dk); err == nil {
				return docstore.ErrDuplicate
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(dk, []byte(key)); err != nil {
				return err
			}
		}
		return txn.Set(docKey(collection, key), raw)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return docstore.Snapshot{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Key: key, Data: data}, nil
}

func (s *Store) Set(ctx context.Context, collection, key string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := docstore.MarshalDocument(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, key), raw)
	})
}

func (s *Store) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		doc, err := readDocument(txn, collection, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return docstore.ErrNotFound
		}
		if err := mergeFields(doc, fields); err != nil {
			return err
		}
		return writeDocument(txn, collection, key, doc)
	})
}

// Apply runs the mutation inside a read-modify-write transaction. Badger
// aborts the commit with ErrConflict when another transaction touched the
// document in between, and the whole step is retried.
func (s *Store) Apply(ctx context.Context, collection, key string, m docstore.Mutation) (docstore.Snapshot, error) {
	var out []byte
	err := s.update(ctx, func(txn *badger.Txn) error {
		doc, err := readDocument(txn, collection, key)
		if err != nil {
			return err
		}
		if doc == nil {
			doc = map[string]any{}
			if err := mergeFields(doc, m.InitialDocument()); err != nil {
				return err
			}
		} else {
			if err := mergeFields(doc, m.Set); err != nil {
				return err
			}
			for _, field := range m.IncrementFields() {
				current, err := numberValue(doc[field])
				if err != nil {
					return fmt.Errorf("increment %s: %w", field, err)
				}
				doc[field] = current + m.Increment[field]
			}
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		out = raw
		return txn.Set(docKey(collection, key), raw)
	})
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Key: key, Data: out}, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(collection, key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return docstore.ErrNotFound
			}
			return err
		}
		return txn.Delete(docKey(collection, key))
	})
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := docPrefix(collection)
	var out []docstore.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = q.Descending
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if q.Descending {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if q.Field != "" && !fieldEquals(data, q.Field, q.Equals) {
				continue
			}
			out = append(out, docstore.Snapshot{
				Key:  string(bytes.TrimPrefix(item.Key(), prefix)),
				Data: data,
			})
			if q.Limit > 0 && len(out) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LookupDedup(ctx context.Context, collection, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var docID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dedupKey(collection, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			docID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", docstore.ErrNotFound
	}
	return docID, err
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("transaction retries exhausted: %w", badger.ErrConflict)
}

func readDocument(txn *badger.Txn, collection, key string) (map[string]any, error) {
	item, err := txn.Get(docKey(collection, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	err = item.Value(func(val []byte) error {
		dec := json.NewDecoder(bytes.NewReader(val))
		dec.UseNumber()
		return dec.Decode(&doc)
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func writeDocument(txn *badger.Txn, collection, key string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return txn.Set(docKey(collection, key), raw)
}

// mergeFields copies fields into doc after a JSON round trip, so stored values
// have the same shape whichever Go types the caller used.
func mergeFields(doc map[string]any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized map[string]any
	if err := dec.Decode(&normalized); err != nil {
		return err
	}
	for k, v := range normalized {
		doc[k] = v
	}
	return nil
}

func numberValue(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(math.Round(f)), nil
	case int64:
		return n, nil
	case float64:
		return int64(math.Round(n)), nil
	default:
		return 0, fmt.Errorf("field is not numeric: %T", v)
	}
}

func fieldEquals(data []byte, field, want string) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	raw, ok := doc[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == want
	}
	return string(raw) == want
}
