package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	Role        string `msgpack:"role"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

// DBThread is the summary of a direct conversation, keyed by thread key.
type DBThread struct {
	ID          string `msgpack:"id"`
	UserA       string `msgpack:"userA"`
	UserB       string `msgpack:"userB"`
	LastSeq     uint64 `msgpack:"lastSeq"`
	LastMessage string `msgpack:"lastMessage"`
}

func (t *DBThread) Key() []byte {
	return []byte(t.ID)
}

func (t *DBThread) MarshalBinary() (data []byte, err error) {
	type alias DBThread
	return msgpack.Marshal((*alias)(t))
}

func (t *DBThread) UnmarshalBinary(data []byte) error {
	type alias DBThread
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBMessage struct {
	Seq        uint64 `msgpack:"seq"`
	Timestamp  int64  `msgpack:"timestamp"` // unix nanoseconds
	ThreadID   string `msgpack:"threadId"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Content    string `msgpack:"content"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
