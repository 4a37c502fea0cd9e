package media

import "errors"

var (
	// ErrAssetNotFound indicates the requested media object does not exist.
	ErrAssetNotFound = errors.New("media asset not found")
	// ErrProviderUnavailable indicates no storage provider is configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
