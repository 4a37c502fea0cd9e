package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// MaxAssetBytes caps uploads when neither the service nor the call sets a limit.
const MaxAssetBytes int64 = 50 * 1024 * 1024

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Service stores uploaded media through a StorageProvider.
type Service struct {
	provider StorageProvider
	logger   *slog.Logger
	maxBytes int64
	now      func() time.Time
}

// NewService creates a media service with the given storage provider.
func NewService(log *slog.Logger, provider StorageProvider, maxBytes int64) *Service {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &Service{
		provider: provider,
		logger:   log.With(slog.String("service", "media")),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Upload spools the payload to disk while hashing it, sniffs the mime type
// from the content and stores it under "<namespace>/<millis>_<name><ext>".
func (s *Service) Upload(ctx context.Context, input UploadInput) (Asset, error) {
	if s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(string(input.Namespace)) == "" {
		return Asset{}, fmt.Errorf("namespace is required")
	}
	if input.Reader == nil {
		return Asset{}, fmt.Errorf("reader is required")
	}
	maxBytes := input.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.maxBytes
	}

	contentHash, sizeBytes, tempPath, err := spoolAndHashWithLimit(input.Reader, maxBytes)
	if err != nil {
		return Asset{}, fmt.Errorf("read input: %w", err)
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	mtype, err := mimetype.DetectFile(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("detect mime: %w", err)
	}

	name := sanitizeName(input.Name)
	if name == "" {
		name = contentHash[:16]
	}
	if path.Ext(name) == "" {
		name += mtype.Extension()
	}
	key := path.Join(string(input.Namespace), strconv.FormatInt(s.now().UnixMilli(), 10)+"_"+name)

	tempFile, err := os.Open(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close()
	}()
	if err := s.provider.Put(ctx, key, tempFile); err != nil {
		return Asset{}, fmt.Errorf("store media: %w", err)
	}

	mime := mtype.String()
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	s.logger.Debug("media stored",
		slog.String("key", key),
		slog.String("mime", mime),
		slog.Int64("size_bytes", sizeBytes))
	return Asset{
		Key:         key,
		URL:         s.provider.AccessPath(key),
		Mime:        mime,
		SizeBytes:   sizeBytes,
		ContentHash: contentHash,
	}, nil
}

// Open returns a reader for a stored object.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	return s.provider.Open(ctx, key)
}

func sanitizeName(name string) string {
	name = path.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}

func spoolAndHashWithLimit(reader io.Reader, maxBytes int64) (string, int64, string, error) {
	if reader == nil {
		return "", 0, "", fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, "", fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "chatrelay-media-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, "", fmt.Errorf("asset payload is empty")
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}
