package line

import (
	"encoding/json"
	"strings"
)

const (
	EventTypeMessage = "message"

	MessageTypeText    = "text"
	MessageTypeImage   = "image"
	MessageTypeVideo   = "video"
	MessageTypeAudio   = "audio"
	MessageTypeFile    = "file"
	MessageTypeSticker = "sticker"

	ContentProviderLine     = "line"
	ContentProviderExternal = "external"
)

// WebhookRequest is the body LINE posts to the webhook endpoint.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

type Event struct {
	Type            string           `json:"type"`
	WebhookEventID  string           `json:"webhookEventId"`
	Timestamp       int64            `json:"timestamp"`
	Mode            string           `json:"mode,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	ReplyToken      string           `json:"replyToken,omitempty"`
	Source          Source           `json:"source"`
	Message         *Message         `json:"message,omitempty"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type Message struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Text            string           `json:"text,omitempty"`
	StickerID       string           `json:"stickerId,omitempty"`
	PackageID       string           `json:"packageId,omitempty"`
	FileName        string           `json:"fileName,omitempty"`
	FileSize        int64            `json:"fileSize,omitempty"`
	Duration        int64            `json:"duration,omitempty"`
	ThumbnailID     string           `json:"thumbnailId,omitempty"`
	ContentProvider *ContentProvider `json:"contentProvider,omitempty"`
}

type ContentProvider struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

// External reports whether the content is hosted outside LINE and can be
// linked directly.
func (p *ContentProvider) External() bool {
	return p != nil && p.Type == ContentProviderExternal && strings.TrimSpace(p.OriginalContentURL) != ""
}

// IsRedelivery reports whether LINE flagged the event as a redelivery.
func (e Event) IsRedelivery() bool {
	return e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery
}

// DedupKey identifies the event across redeliveries: the webhook event id,
// falling back to the message id for payloads that omit it.
func (e Event) DedupKey() string {
	if id := strings.TrimSpace(e.WebhookEventID); id != "" {
		return id
	}
	if e.Message != nil {
		if id := strings.TrimSpace(e.Message.ID); id != "" {
			return "message:" + id
		}
	}
	return ""
}

// Profile is a LINE user profile.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// TextMessage builds an outbound text message object.
func TextMessage(text string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"type": MessageTypeText, "text": text})
	return raw
}
