// Package localfs implements media.StorageProvider on a local directory whose
// contents are served by the HTTP server under RoutePrefix.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatrelay/chatrelay/internal/media"
)

// RoutePrefix is where the HTTP server exposes stored objects.
const RoutePrefix = "/media"

type Provider struct {
	root    string
	baseURL string
}

// New creates a provider rooted at dir. baseURL is the public origin of the
// server (e.g. "https://relay.example.com"); empty yields root-relative URLs.
func New(dir, baseURL string) (*Provider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Provider{root: abs, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}, nil
}

// Put writes the object to a temp file first so readers never see a partial file.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.filePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.filePath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if errors.Is(err, os.ErrNotExist) {
		return nil, media.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// AccessPath returns the public URL of a storage key.
func (p *Provider) AccessPath(key string) string {
	parts := strings.Split(strings.Trim(filepath.ToSlash(key), "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return p.baseURL + RoutePrefix + "/" + strings.Join(parts, "/")
}

// filePath converts a storage key into a path below root.
func (p *Provider) filePath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("storage key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", media.ErrPathTraversal, key)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	if !strings.Contains(clean, string(filepath.Separator)) {
		return "", fmt.Errorf("storage key must contain a namespace: %s", key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}
