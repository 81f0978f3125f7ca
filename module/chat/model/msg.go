package model

import (
	"strings"
	"time"

	"ChatSync/tools/safe"
)

// ===== 常量 =====

// MediaKind 媒体类型（由上传文件的 MIME 前缀推导）。
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MessageTypeText 是没有媒体时后端返回的 message_type。
const MessageTypeText = "text"

// MediaKindFromMIME maps "image/png" -> image etc.; anything else is "".
func MediaKindFromMIME(mime string) MediaKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio
	}
	return ""
}

// Origin 标记一条消息在视图中的来源。
type Origin int

const (
	Confirmed    Origin = iota // 服务端已确认（拥有真实 id）
	PendingLocal               // 本地乐观插入（占位 id < 0）
)

func (o Origin) String() string {
	if o == PendingLocal {
		return "PendingLocal"
	}
	return "Confirmed"
}

// ===== 视图结构 =====

type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Message 是会话视图中的一行。
type Message struct {
	ID             int64     // 服务端 id；PendingLocal 时为负数占位
	ConversationID int64     // 会话ID
	SenderID       string    // 发送者
	Content        *string   // 可空文本
	Media          *Media    // 可选媒体
	SentAt         time.Time // 发送时间
	IsRead         bool      // 对端已读
	Origin         Origin    // Confirmed / PendingLocal
	Failed         bool      // PendingLocal 且发送失败（用户可重试或丢弃）
	ClientToken    string    // 客户端关联令牌（本地发送才有）
}

// Text returns the content or "".
func (m *Message) Text() string { return safe.DefaultString(m.Content, "") }

// ===== 线上结构 =====

// ServerMessage 是后端 JSON 中的消息形状（compose 响应 / fetch 响应 / push 回显）。
type ServerMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        *string   `json:"content"`
	MessageType    string    `json:"message_type"`
	MediaURL       *string   `json:"media_url"`
	SentAt         time.Time `json:"sent_at"`
	IsRead         bool      `json:"is_read"`
	ClientToken    string    `json:"client_token,omitempty"` // 回显的关联令牌
}

// ToMessage converts the wire shape into a Confirmed view row. conversationID is
// used when the payload does not carry one.
func (s ServerMessage) ToMessage(conversationID int64) Message {
	msg := Message{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		SenderID:       s.Sender,
		Content:        s.Content,
		SentAt:         s.SentAt,
		IsRead:         s.IsRead,
		Origin:         Confirmed,
		ClientToken:    s.ClientToken,
	}
	if msg.ConversationID == 0 {
		msg.ConversationID = conversationID
	}
	if s.MediaURL != nil && *s.MediaURL != "" {
		kind := MediaKind(s.MessageType)
		switch kind {
		case MediaImage, MediaVideo, MediaAudio:
		default:
			kind = ""
		}
		msg.Media = &Media{URL: *s.MediaURL, Kind: kind}
	}
	return msg
}

// Attachment 是草稿中的媒体文件。
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Draft 是用户提交的待发送内容。
type Draft struct {
	Content string
	Media   *Attachment
}

// Empty reports whether there is nothing to send.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Content) == "" && d.Media == nil
}

func StringPtr(s string) *string { return &s }
