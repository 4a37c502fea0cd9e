package chat

import (
	"context"
	"time"
)

// Collection holds one aggregate per user, keyed by user id.
const Collection = "chats"

type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregate summarizes one user's conversation.
type Aggregate struct {
	UserID      string      `json:"userId"`
	UserName    string      `json:"userName"`
	UserAvatar  string      `json:"userAvatar"`
	LastMessage LastMessage `json:"lastMessage"`
	UnreadCount int64       `json:"unreadCount"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type Upserter interface {
	Upsert(ctx context.Context, userID string, profile Profile, content string, at time.Time) (Aggregate, error)
}
