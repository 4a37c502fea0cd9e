package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/metrics"
)

const (
	labelImage   = "Image"
	labelFile    = "File"
	labelVideo   = "Video"
	labelSticker = "Sticker"
)

type ProfileFetcher interface {
	Profile(ctx context.Context, userID string) (line.Profile, error)
}

type ContentFetcher interface {
	FetchContent(ctx context.Context, messageID string) (*line.Content, error)
}

type Uploader interface {
	Upload(ctx context.Context, input media.UploadInput) (media.Asset, error)
}

// Defaults fill in profile fields LINE did not provide.
type Defaults struct {
	UserName  string
	AvatarURL string
}

// Normalizer turns a LINE message event into a message record. It never
// fails: media problems degrade the record to a label with status "failed".
type Normalizer struct {
	logger   *slog.Logger
	profiles ProfileFetcher
	content  ContentFetcher
	uploader Uploader
	defaults Defaults
	now      func() time.Time
}

func NewNormalizer(log *slog.Logger, profiles ProfileFetcher, content ContentFetcher, uploader Uploader, defaults Defaults) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		logger:   log.With(slog.String("component", "normalizer")),
		profiles: profiles,
		content:  content,
		uploader: uploader,
		defaults: defaults,
		now:      time.Now,
	}
}

// ResolveProfile returns the sender profile, or the defaults when LINE
// cannot provide it.
func (n *Normalizer) ResolveProfile(ctx context.Context, userID string) chat.Profile {
	profile := chat.Profile{Name: n.defaults.UserName, Avatar: n.defaults.AvatarURL}
	if n.profiles == nil || strings.TrimSpace(userID) == "" {
		return profile
	}
	p, err := n.profiles.Profile(ctx, userID)
	if err != nil {
		n.logger.Warn("profile lookup failed, using defaults", slog.String("user_id", userID), slog.Any("error", err))
		return profile
	}
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		profile.Name = name
	}
	if avatar := strings.TrimSpace(p.PictureURL); avatar != "" {
		profile.Avatar = avatar
	}
	return profile
}

func (n *Normalizer) Normalize(ctx context.Context, ev line.Event) message.Record {
	senderID := senderOf(ev.Source)
	profile := n.ResolveProfile(ctx, ev.Source.UserID)
	record := message.Record{
		SenderID:     senderID,
		SenderName:   profile.Name,
		SenderAvatar: profile.Avatar,
		UserID:       senderID,
		ChatID:       senderID,
		Timestamp:    n.now().UTC().Format(time.RFC3339Nano),
		Status:       message.StatusReceived,
	}
	msg := ev.Message
	if msg == nil {
		record.Type = message.TypeOther
		record.Content = "Unsupported message type: none"
		return record
	}
	record.MessageID = msg.ID

	switch msg.Type {
	case line.MessageTypeText:
		record.Type = message.TypeText
		record.Content = msg.Text
	case line.MessageTypeImage:
		record.Type = message.TypeImage
		record.Content = labelImage
		n.attachFile(ctx, &record, msg, media.NamespaceImages, msg.ID)
	case line.MessageTypeFile:
		record.Type = message.TypeFile
		record.Content = labelFile
		record.FileName = msg.FileName
		record.FileSize = msg.FileSize
		name := msg.ID
		if msg.FileName != "" {
			name = msg.ID + "_" + msg.FileName
		}
		n.attachFile(ctx, &record, msg, media.NamespaceFiles, name)
	case line.MessageTypeVideo:
		record.Type = message.TypeVideo
		record.Content = labelVideo
		n.attachVideo(ctx, &record, msg)
	case line.MessageTypeSticker:
		record.Type = message.TypeSticker
		record.Content = labelSticker
		record.StickerID = msg.StickerID
		record.PackageID = msg.PackageID
	default:
		record.Type = message.TypeOther
		record.Content = fmt.Sprintf("Unsupported message type: %s", msg.Type)
	}
	return record
}

func (n *Normalizer) attachFile(ctx context.Context, record *message.Record, msg *line.Message, ns media.Namespace, name string) {
	if msg.ContentProvider.External() {
		record.FileURL = message.URLRef(msg.ContentProvider.OriginalContentURL)
		return
	}
	url, err := n.store(ctx, msg.ID, ns, name)
	if err != nil {
		n.mediaFailed(record, msg, err)
		return
	}
	record.FileURL = message.URLRef(url)
}

func (n *Normalizer) attachVideo(ctx context.Context, record *message.Record, msg *line.Message) {
	if msg.ContentProvider.External() {
		record.FileURL = message.VideoFileRef(msg.ContentProvider.OriginalContentURL, msg.ContentProvider.PreviewImageURL)
		return
	}
	videoURL, err := n.store(ctx, msg.ID, media.NamespaceVideos, msg.ID)
	if err != nil {
		n.mediaFailed(record, msg, err)
		return
	}
	var thumbURL string
	if thumbID := strings.TrimSpace(msg.ThumbnailID); thumbID != "" {
		thumbURL, err = n.store(ctx, thumbID, media.NamespaceVideos, msg.ID+"_thumbnail")
		if err != nil {
			metrics.MediaFailures.WithLabelValues(msg.Type).Inc()
			n.logger.Warn("video thumbnail upload failed",
				slog.String("message_id", msg.ID),
				slog.String("thumbnail_id", thumbID),
				slog.Any("error", err))
			thumbURL = ""
		}
	}
	record.FileURL = message.VideoFileRef(videoURL, thumbURL)
}

func (n *Normalizer) store(ctx context.Context, contentID string, ns media.Namespace, name string) (string, error) {
	if n.content == nil || n.uploader == nil {
		return "", media.ErrProviderUnavailable
	}
	content, err := n.content.FetchContent(ctx, contentID)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = content.Body.Close()
	}()
	asset, err := n.uploader.Upload(ctx, media.UploadInput{
		Namespace: ns,
		Name:      name,
		Reader:    content.Body,
	})
	if err != nil {
		return "", err
	}
	return asset.URL, nil
}

func (n *Normalizer) mediaFailed(record *message.Record, msg *line.Message, err error) {
	metrics.MediaFailures.WithLabelValues(msg.Type).Inc()
	n.logger.Error("media processing failed",
		slog.String("message_id", msg.ID),
		slog.String("message_type", msg.Type),
		slog.Any("error", err))
	record.FileURL = nil
	record.Status = message.StatusFailed
}

// senderOf returns the user id, falling back to the group or room id for
// senders who have not consented to share it.
func senderOf(src line.Source) string {
	for _, id := range []string{src.UserID, src.GroupID, src.RoomID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}
