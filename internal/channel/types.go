// Package channel connects chat transports (Telegram, Discord, the dashboard) to the
// relay. Adapters turn platform updates into InboundMessages; the Manager keeps their
// connections alive, queues inbound work per sender and delivers Replies back.
package channel

import (
	"strings"
	"time"

	"github.com/memohai/guardrelay/internal/chat"
)

// ChannelType names a transport, for example "telegram".
type ChannelType string

func (c ChannelType) String() string {
	return string(c)
}

// ParseChannelType lower-cases and trims raw.
func ParseChannelType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}

// Author is the sender of an inbound message.
type Author struct {
	ID       string
	Username string
	Name     string
	Phone    string
}

// Key is the stable per-author identifier: the platform id, else the username, else the name.
func (a Author) Key() string {
	for _, v := range []string{a.ID, a.Username, a.Name} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Handle is the human-readable reference used in logs and audit entries.
func (a Author) Handle() string {
	for _, v := range []string{a.Username, a.Name, a.ID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Picture is an image carried by an inbound message. FileID is a transport handle
// resolved through the adapter's ImageFetcher; URL is fetched over HTTP; Data is inline.
type Picture struct {
	FileID string
	URL    string
	Data   []byte
	MIME   string
	Size   int64
}

// Located reports whether the picture can be read.
func (p Picture) Located() bool {
	return strings.TrimSpace(p.FileID) != "" || strings.TrimSpace(p.URL) != "" || len(p.Data) > 0
}

// InboundMessage is one message received on a transport.
type InboundMessage struct {
	Channel ChannelType
	// ID is the transport message id; replies quote it when the transport supports that.
	ID string
	// ChatID is where replies go: a chat id, a channel id or a dashboard session id.
	ChatID   string
	ChatKind string
	From     Author
	Text     string
	Pictures []Picture
	At       time.Time
}

// Empty reports whether the message has neither text nor pictures.
func (m InboundMessage) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Pictures) == 0
}

// SenderKey scopes the author to the channel. Work for one key is processed in order.
func (m InboundMessage) SenderKey() string {
	return m.Channel.String() + ":" + m.From.Key()
}

// Reply is what the relay sends back to a chat.
type Reply struct {
	ChatID string `json:"chat_id"`
	// QuoteID is the inbound message id to reply to. Only the first delivered part quotes it.
	QuoteID  string      `json:"quote_id,omitempty"`
	Text     string      `json:"text,omitempty"`
	Markdown bool        `json:"markdown,omitempty"`
	Image    *chat.Image `json:"image,omitempty"`
}

// Empty reports whether the reply carries nothing to send.
func (r Reply) Empty() bool {
	return strings.TrimSpace(r.Text) == "" && (r.Image == nil || r.Image.Base64 == "")
}

// ChannelConfig is one configured transport connection. Disabled configs are kept but
// not connected.
type ChannelConfig struct {
	ID        string      `json:"id"`
	Type      ChannelType `json:"channel_type"`
	Token     string      `json:"-"`
	Disabled  bool        `json:"disabled"`
	UpdatedAt time.Time   `json:"updated_at"`
}
