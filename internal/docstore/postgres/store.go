// Package postgres implements docstore.Store on a single JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/docstore"
)

const uniqueViolation = "23505"

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("component", "docstore_postgres")),
	}
}

// Close is a no-op; the pool is owned by whoever opened it.
func (s *Store) Close() error {
	return nil
}

func (s *Store) Push(ctx context.Context, collection string, doc any, opts ...docstore.PushOption) (string, error) {
	raw, err := docstore.MarshalDocument(doc)
	if err != nil {
		return "", err
	}
	key, err := docstore.NewKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	options := docstore.ApplyPushOptions(opts)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, key, dedup_key, data) VALUES ($1, $2, NULLIF($3, ''), $4::jsonb)`,
		collection, key, options.DedupKey, string(raw))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", docstore.ErrDuplicate
		}
		return "", fmt.Errorf("insert document: %w", err)
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("get document: %w", err)
	}
	return docstore.Snapshot{Key: key, Data: data}, nil
}

func (s *Store) Set(ctx context.Context, collection, key string, doc any) error {
	raw, err := docstore.MarshalDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, string(raw))
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND key = $2`,
		collection, key, string(raw))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Apply is a single upsert statement, so concurrent mutations of the same
// document serialize on the row lock and no increment is lost.
func (s *Store) Apply(ctx context.Context, collection, key string, m docstore.Mutation) (docstore.Snapshot, error) {
	initial, err := json.Marshal(m.InitialDocument())
	if err != nil {
		return docstore.Snapshot{}, err
	}
	set := m.Set
	if set == nil {
		set = map[string]any{}
	}
	setRaw, err := json.Marshal(set)
	if err != nil {
		return docstore.Snapshot{}, err
	}

	args := []any{collection, key, string(initial), string(setRaw)}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, key) DO UPDATE SET data = documents.data || $4::jsonb`)
	for _, field := range m.IncrementFields() {
		args = append(args, field, m.Increment[field])
		nameArg := len(args) - 1
		deltaArg := len(args)
		fmt.Fprintf(&sb,
			` || jsonb_build_object($%d::text, COALESCE((documents.data->>$%d::text)::bigint, 0) + $%d::bigint)`,
			nameArg, nameArg, deltaArg)
	}
	sb.WriteString(`, updated_at = now() RETURNING data`)

	var data []byte
	if err := s.pool.QueryRow(ctx, sb.String(), args...).Scan(&data); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("apply mutation: %w", err)
	}
	return docstore.Snapshot{Key: key, Data: data}, nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	args := []any{collection}
	var sb strings.Builder
	sb.WriteString(`SELECT key, data FROM documents WHERE collection = $1`)
	if q.Field != "" {
		args = append(args, q.Field, q.Equals)
		sb.WriteString(` AND data->>$2::text = $3`)
	}
	if q.Descending {
		sb.WriteString(` ORDER BY key DESC`)
	} else {
		sb.WriteString(` ORDER BY key ASC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var snap docstore.Snapshot
		var data []byte
		if err := rows.Scan(&snap.Key, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		snap.Data = data
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *Store) LookupDedup(ctx context.Context, collection, dedupKey string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`SELECT key FROM documents WHERE collection = $1 AND dedup_key = $2`,
		collection, dedupKey).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", docstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup dedup key: %w", err)
	}
	return key, nil
}
