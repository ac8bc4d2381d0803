package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleSender   Role = "sender"
	RoleTraveler Role = "traveler"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSender, RoleTraveler:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q (expected %q or %q)", s, RoleSender, RoleTraveler)
}

// PartnerLabel is the noun used for the other side of a conversation
// when the server does not provide a display name.
func (r Role) PartnerLabel() string {
	if r == RoleSender {
		return "Traveler"
	}
	return "Sender"
}

// DefaultAutoSelect reports whether the role opens the first thread on its own.
// Travelers land straight in their latest conversation, senders pick one.
func (r Role) DefaultAutoSelect() bool {
	return r == RoleTraveler
}

type IDSpace uint8

const (
	SpaceProvisional IDSpace = iota + 1
	SpaceServer
)

// ID identifies a message either in the local provisional space or in the
// server space. Two IDs are equal only if both space and value match, so a
// provisional ID can never collide with a server one.
type ID struct {
	Space IDSpace
	Value string
}

func ProvisionalID(v string) ID {
	return ID{Space: SpaceProvisional, Value: v}
}

func ServerID(v string) ID {
	return ID{Space: SpaceServer, Value: v}
}

func (id ID) IsZero() bool {
	return id.Value == ""
}

func (id ID) IsProvisional() bool {
	return id.Space == SpaceProvisional
}

func (id ID) String() string {
	if id.IsProvisional() {
		return "tmp:" + id.Value
	}
	return id.Value
}

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// Message is a single entry of a thread as the client renders it.
type Message struct {
	ID         ID
	Content    string
	SenderID   string
	ReceiverID string
	Timestamp  time.Time
	State      DeliveryState
}

func (m Message) IsOutgoing(selfID string) bool {
	return m.SenderID == selfID
}

// Partner is one entry of the thread directory.
type Partner struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"displayName"`
	LatestMessagePreview string `json:"latestMessagePreview,omitempty"`
}

// User is a marketplace participant known to the chat server.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}
