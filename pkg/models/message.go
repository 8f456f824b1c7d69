package models

import (
	"strings"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelCLI      ChannelType = "cli"
)

// Role indicates the author of a persisted conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one persisted line of a user's conversation memory.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentKind classifies inbound binary content.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is binary content carried by an inbound user turn.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	MimeType string         `json:"mime_type,omitempty"`
	Filename string         `json:"filename,omitempty"`
	Data     []byte         `json:"-"`
}

// IsMedia reports whether the attachment is image, audio or video content.
func (a Attachment) IsMedia() bool {
	switch a.Kind {
	case AttachmentImage, AttachmentAudio, AttachmentVideo:
		return true
	}
	return strings.HasPrefix(a.MimeType, "image/") ||
		strings.HasPrefix(a.MimeType, "audio/") ||
		strings.HasPrefix(a.MimeType, "video/")
}

// MediaKind classifies outbound media produced by tools.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
)

// MediaRef points at a generated media file to deliver alongside a reply.
// Exactly one of Path or URL is set.
type MediaRef struct {
	Kind     MediaKind `json:"kind"`
	Path     string    `json:"path,omitempty"`
	URL      string    `json:"url,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}
