package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicate is returned by Append when a record with the same dedup key
// was already stored.
var ErrDuplicate = errors.New("message already stored")

var ErrNotFound = errors.New("message not found")

type Type string

const (
	TypeText    Type = "text"
	TypeImage   Type = "image"
	TypeFile    Type = "file"
	TypeVideo   Type = "video"
	TypeSticker Type = "sticker"
	TypeOther   Type = "other"
)

type Status string

const (
	StatusReceived Status = "received"
	StatusFailed   Status = "failed"
)

// VideoRef points at a stored video and its optional thumbnail.
type VideoRef struct {
	Video     string `json:"video"`
	Thumbnail string `json:"thumbnail"`
}

// FileRef is the fileUrl of a record: a plain URL for images and files, a
// VideoRef for videos. A nil *FileRef encodes as JSON null.
type FileRef struct {
	URL   string
	Video *VideoRef
}

func URLRef(url string) *FileRef {
	return &FileRef{URL: url}
}

func VideoFileRef(video, thumbnail string) *FileRef {
	return &FileRef{Video: &VideoRef{Video: video, Thumbnail: thumbnail}}
}

func (f FileRef) MarshalJSON() ([]byte, error) {
	if f.Video != nil {
		return json.Marshal(f.Video)
	}
	return json.Marshal(f.URL)
}

func (f *FileRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = FileRef{}
		return nil
	case data[0] == '"':
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		*f = FileRef{URL: url}
		return nil
	case data[0] == '{':
		var video VideoRef
		if err := json.Unmarshal(data, &video); err != nil {
			return err
		}
		*f = FileRef{Video: &video}
		return nil
	default:
		return fmt.Errorf("fileUrl must be a string or an object")
	}
}

// Record is one stored message. Records are append-only.
type Record struct {
	SenderID     string   `json:"senderId"`
	SenderName   string   `json:"senderName"`
	SenderAvatar string   `json:"senderAvatar"`
	UserID       string   `json:"userId"`
	ChatID       string   `json:"chatId"`
	Content      string   `json:"content"`
	Timestamp    string   `json:"timestamp"`
	Type         Type     `json:"type"`
	Status       Status   `json:"status"`
	FileURL      *FileRef `json:"fileUrl"`
	FileName     string   `json:"fileName,omitempty"`
	FileSize     int64    `json:"fileSize,omitempty"`
	StickerID    string   `json:"stickerId,omitempty"`
	PackageID    string   `json:"packageId,omitempty"`
	MessageID    string   `json:"messageId,omitempty"`
	DedupKey     string   `json:"dedupKey,omitempty"`
	// Aggregated is set once the record has been counted in its chat
	// aggregate. A stored record without it needs the aggregate applied.
	Aggregated   bool     `json:"aggregated"`
}

// StoredRecord is a Record together with its store key.
type StoredRecord struct {
	Key string `json:"key"`
	Record
}

type Writer interface {
	Append(ctx context.Context, record Record) (string, error)
	FindByDedupKey(ctx context.Context, dedupKey string) (StoredRecord, error)
	MarkAggregated(ctx context.Context, key string) error
}

type Reader interface {
	Get(ctx context.Context, key string) (StoredRecord, error)
	ListByChat(ctx context.Context, chatID string, limit int) ([]StoredRecord, error)
}
