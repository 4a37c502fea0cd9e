package handlers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/docstore/badgerdb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDocs(t *testing.T) *badgerdb.Store {
	t.Helper()
	docs, err := badgerdb.OpenInMemory(discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	return docs
}
