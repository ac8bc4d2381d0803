package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WireID is an identifier as it travels over HTTP. Servers emit either JSON
// numbers or strings for ids, both decode into the same value.
type WireID string

func (w *WireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*w = WireID(n.String())
	return nil
}

func (w WireID) String() string {
	return string(w)
}

// WireMessage is a persisted message in the server's history format.
type WireMessage struct {
	ID         WireID    `json:"id"`
	Content    string    `json:"content"`
	SenderID   WireID    `json:"senderId"`
	ReceiverID WireID    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Message converts a server record into a confirmed thread message.
func (w WireMessage) Message() Message {
	return Message{
		ID:         ServerID(string(w.ID)),
		Content:    w.Content,
		SenderID:   string(w.SenderID),
		ReceiverID: string(w.ReceiverID),
		Timestamp:  w.Timestamp,
		State:      DeliveryConfirmed,
	}
}

func MessagesFromWire(in []WireMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, w := range in {
		out = append(out, w.Message())
	}
	return out
}

type SendRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type SendResponse struct {
	ID        WireID    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// PartnerEntry is one row of the partner discovery endpoint.
type PartnerEntry struct {
	PartnerID     WireID `json:"partnerId"`
	Name          string `json:"name,omitempty"`
	LatestMessage string `json:"latestMessage,omitempty"`
}

// StreamFrame is pushed over the websocket stream for a thread.
type StreamFrame struct {
	Messages []WireMessage `json:"messages"`
}

// ThreadKey is the deterministic identifier of the conversation between two users.
func ThreadKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("dm_%s_%s", a, b)
}

// ThreadPeer returns the other participant of a thread key, if userID takes part in it.
func ThreadPeer(threadKey, userID string) (string, bool) {
	if !strings.HasPrefix(threadKey, "dm_") {
		return "", false
	}
	parts := strings.Split(threadKey[3:], "_")
	if len(parts) != 2 {
		return "", false
	}
	switch userID {
	case parts[0]:
		return parts[1], true
	case parts[1]:
		return parts[0], true
	}
	return "", false
}
