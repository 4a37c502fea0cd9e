package inbound

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/message"
)

var testDefaults = Defaults{UserName: "LINE User", AvatarURL: "https://placeholder/avatar.png"}

func newTestNormalizer(content *fakeContent, uploader *fakeUploader) *Normalizer {
	profiles := &fakeProfiles{profiles: map[string]line.Profile{
		"U1": {UserID: "U1", DisplayName: "Amy", PictureURL: "https://p/amy.png"},
	}}
	n := NewNormalizer(slog.Default(), profiles, content, uploader, testDefaults)
	n.now = func() time.Time { return fixedNow }
	return n
}

func TestNormalizeText(t *testing.T) {
	n := newTestNormalizer(&fakeContent{}, &fakeUploader{})
	rec := n.Normalize(context.Background(), textEvent("E1", "U1", "hello"))

	if rec.Content != "hello" || rec.Type != message.TypeText || rec.Status != message.StatusReceived {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ChatID != "U1" || rec.SenderID != "U1" || rec.UserID != "U1" {
		t.Fatalf("unexpected ids: %+v", rec)
	}
	if rec.SenderName != "Amy" || rec.SenderAvatar != "https://p/amy.png" {
		t.Fatalf("unexpected profile: %+v", rec)
	}
	if rec.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %q", rec.Timestamp)
	}
	if rec.FileURL != nil {
		t.Fatalf("expected no file url, got %+v", rec.FileURL)
	}
}

func TestNormalizeProfileFallsBackToDefaults(t *testing.T) {
	n := NewNormalizer(slog.Default(), &fakeProfiles{err: errors.New("boom")}, nil, nil, testDefaults)
	rec := n.Normalize(context.Background(), textEvent("E1", "U404", "hi"))
	if rec.SenderName != "LINE User" || rec.SenderAvatar != testDefaults.AvatarURL {
		t.Fatalf("expected default profile, got %q %q", rec.SenderName, rec.SenderAvatar)
	}
}

func TestNormalizeImageUploads(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"M-E2": "jpeg"}}
	uploader := &fakeUploader{}
	n := newTestNormalizer(content, uploader)

	rec := n.Normalize(context.Background(), mediaEvent("E2", "U1", line.MessageTypeImage))
	if rec.Content != "Image" || rec.Status != message.StatusReceived {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FileURL == nil || rec.FileURL.URL != "https://cdn.test/line-images/M-E2" {
		t.Fatalf("unexpected file url: %+v", rec.FileURL)
	}
	if len(uploader.uploads) != 1 || uploader.uploads[0].Namespace != media.NamespaceImages {
		t.Fatalf("unexpected uploads: %+v", uploader.uploads)
	}
}

func TestNormalizeMediaFailureDegradesToLabel(t *testing.T) {
	tests := []struct {
		msgType string
		label   string
	}{
		{msgType: line.MessageTypeImage, label: "Image"},
		{msgType: line.MessageTypeFile, label: "File"},
		{msgType: line.MessageTypeVideo, label: "Video"},
	}
	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			n := newTestNormalizer(&fakeContent{}, &fakeUploader{})
			rec := n.Normalize(context.Background(), mediaEvent("E3", "U1", tt.msgType))
			if rec.Content != tt.label {
				t.Fatalf("content = %q, want %q", rec.Content, tt.label)
			}
			if rec.FileURL != nil {
				t.Fatalf("expected nil file url, got %+v", rec.FileURL)
			}
			if rec.Status != message.StatusFailed {
				t.Fatalf("expected failed status, got %q", rec.Status)
			}
		})
	}
}

func TestNormalizeUploadFailure(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"M-E4": "data"}}
	n := newTestNormalizer(content, &fakeUploader{err: media.ErrAssetTooLarge})
	rec := n.Normalize(context.Background(), mediaEvent("E4", "U1", line.MessageTypeImage))
	if rec.Status != message.StatusFailed || rec.FileURL != nil || rec.Content != "Image" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNormalizeFileKeepsMetadata(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"M-E5": "pdf"}}
	uploader := &fakeUploader{}
	n := newTestNormalizer(content, uploader)

	ev := mediaEvent("E5", "U1", line.MessageTypeFile)
	ev.Message.FileName = "report.pdf"
	ev.Message.FileSize = 2048
	rec := n.Normalize(context.Background(), ev)

	if rec.FileName != "report.pdf" || rec.FileSize != 2048 {
		t.Fatalf("unexpected file metadata: %+v", rec)
	}
	if rec.FileURL == nil || rec.FileURL.URL != "https://cdn.test/line-files/M-E5_report.pdf" {
		t.Fatalf("unexpected file url: %+v", rec.FileURL)
	}
}

func TestNormalizeVideoWithThumbnail(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"M-E6": "mp4", "T-E6": "jpg"}}
	n := newTestNormalizer(content, &fakeUploader{})

	ev := mediaEvent("E6", "U1", line.MessageTypeVideo)
	ev.Message.ThumbnailID = "T-E6"
	rec := n.Normalize(context.Background(), ev)

	if rec.FileURL == nil || rec.FileURL.Video == nil {
		t.Fatalf("expected video ref, got %+v", rec.FileURL)
	}
	if rec.FileURL.Video.Video != "https://cdn.test/line-videos/M-E6" ||
		rec.FileURL.Video.Thumbnail != "https://cdn.test/line-videos/M-E6_thumbnail" {
		t.Fatalf("unexpected video ref: %+v", rec.FileURL.Video)
	}
}

func TestNormalizeVideoThumbnailFailureKeepsVideo(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"M-E10": "mp4"}}
	n := newTestNormalizer(content, &fakeUploader{})

	ev := mediaEvent("E10", "U1", line.MessageTypeVideo)
	ev.Message.ThumbnailID = "T-missing"
	rec := n.Normalize(context.Background(), ev)

	if rec.Status != message.StatusReceived || rec.Content != "Video" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FileURL == nil || rec.FileURL.Video == nil {
		t.Fatalf("expected video ref, got %+v", rec.FileURL)
	}
	if rec.FileURL.Video.Video != "https://cdn.test/line-videos/M-E10" || rec.FileURL.Video.Thumbnail != "" {
		t.Fatalf("unexpected video ref: %+v", rec.FileURL.Video)
	}
	if content.fetchCount() != 2 {
		t.Fatalf("expected video and thumbnail fetches, got %d", content.fetchCount())
	}
}

func TestNormalizeVideoFetchFailureMarksFailed(t *testing.T) {
	content := &fakeContent{bodies: map[string]string{"T-E11": "jpg"}}
	n := newTestNormalizer(content, &fakeUploader{})

	ev := mediaEvent("E11", "U1", line.MessageTypeVideo)
	ev.Message.ThumbnailID = "T-E11"
	rec := n.Normalize(context.Background(), ev)

	if rec.Status != message.StatusFailed || rec.Content != "Video" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FileURL != nil {
		t.Fatalf("expected null file url, got %+v", rec.FileURL)
	}
	if content.fetchCount() != 1 {
		t.Fatalf("thumbnail must not be fetched after the video failed, got %d fetches", content.fetchCount())
	}
}

func TestNormalizeExternalContentIsLinkedDirectly(t *testing.T) {
	content := &fakeContent{}
	n := newTestNormalizer(content, &fakeUploader{})

	ev := mediaEvent("E7", "U1", line.MessageTypeImage)
	ev.Message.ContentProvider = &line.ContentProvider{Type: "external", OriginalContentURL: "https://ext/img.jpg"}
	rec := n.Normalize(context.Background(), ev)

	if rec.FileURL == nil || rec.FileURL.URL != "https://ext/img.jpg" || rec.Status != message.StatusReceived {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if content.fetchCount() != 0 {
		t.Fatal("external content must not be fetched")
	}
}

func TestNormalizeStickerAndUnsupported(t *testing.T) {
	n := newTestNormalizer(&fakeContent{}, &fakeUploader{})

	sticker := mediaEvent("E8", "U1", line.MessageTypeSticker)
	sticker.Message.StickerID = "52002734"
	sticker.Message.PackageID = "11537"
	rec := n.Normalize(context.Background(), sticker)
	if rec.Content != "Sticker" || rec.StickerID != "52002734" || rec.PackageID != "11537" || rec.FileURL != nil {
		t.Fatalf("unexpected sticker record: %+v", rec)
	}

	rec = n.Normalize(context.Background(), mediaEvent("E9", "U1", "location"))
	if rec.Content != "Unsupported message type: location" || rec.Type != message.TypeOther {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
