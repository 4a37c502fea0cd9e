package media

import (
	"context"
	"io"
)

// Namespace groups stored objects by the kind of message they came from.
type Namespace string

const (
	NamespaceImages Namespace = "line-images"
	NamespaceFiles  Namespace = "line-files"
	NamespaceVideos Namespace = "line-videos"
)

// Asset describes a stored object.
type Asset struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Mime        string `json:"mime"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
}

// UploadInput carries the data needed to store a new object.
type UploadInput struct {
	Namespace Namespace
	// Name becomes part of the key; an extension is added from the sniffed
	// mime type when Name has none.
	Name string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides the service default size limit.
	MaxBytes int64
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// AccessPath returns a publicly retrievable URL for a storage key.
	AccessPath(key string) string
}
