package storage

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"poputka/internal/models"
)

var (
	bucketUsers    = []byte("users")
	bucketThreads  = []byte("threads")
	bucketMessages = []byte("messages")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketThreads, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user profile.
func (s *BboltStorage) UpsertUser(user models.User) error {
	if user.ID == "" {
		return errors.New("user missing id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			Role:        string(user.Role),
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

// GetUser returns the profile of id or models.ErrNotFound.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, id)
		if err != nil {
			return err
		}
		user = dbUser.user()
		return nil
	})
	return user, err
}

// AppendMessage persists a message of the direct thread between senderID and
// receiverID. The id is a global sequence number, the timestamp is ts.
func (s *BboltStorage) AppendMessage(senderID, receiverID, content string, ts time.Time) (models.WireMessage, error) {
	if senderID == "" || receiverID == "" {
		return models.WireMessage{}, errors.New("message missing participants")
	}
	if senderID == receiverID {
		return models.WireMessage{}, errors.New("message sender and receiver are the same user")
	}

	threadID := models.ThreadKey(senderID, receiverID)
	var dbMessage DBMessage

	err := s.db.Update(func(tx *bbolt.Tx) error {
		mainMsgBucket := tx.Bucket(bucketMessages)
		seq, err := mainMsgBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message id: %w", err)
		}

		threadBucket, err := mainMsgBucket.CreateBucketIfNotExists([]byte(threadID))
		if err != nil {
			return fmt.Errorf("failed to create thread bucket: %w", err)
		}

		dbMessage = DBMessage{
			Seq:        seq,
			Timestamp:  ts.UnixNano(),
			ThreadID:   threadID,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := threadBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		return touchThread(tx, &dbMessage)
	})
	if err != nil {
		return models.WireMessage{}, err
	}

	return dbMessage.wire(), nil
}

// ListThread returns the messages between a and b in the order they were
// stored.
func (s *BboltStorage) ListThread(a, b string) ([]models.WireMessage, error) {
	messages := []models.WireMessage{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		threadBucket := tx.Bucket(bucketMessages).Bucket([]byte(models.ThreadKey(a, b)))
		if threadBucket == nil {
			return nil // nothing exchanged yet
		}
		return threadBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.wire())
			return nil
		})
	})
	return messages, err
}

// ListPartners returns everyone userID has a thread with, most recently
// active first.
func (s *BboltStorage) ListPartners(userID string) ([]models.PartnerEntry, error) {
	type peerThread struct {
		peer string
		DBThread
	}
	var threads []peerThread
	partners := []models.PartnerEntry{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketThreads).ForEach(func(k, v []byte) error {
			peer, ok := models.ThreadPeer(string(k), userID)
			if !ok {
				return nil
			}
			var dbThread DBThread
			if err := dbThread.UnmarshalBinary(v); err != nil {
				return err
			}
			threads = append(threads, peerThread{peer: peer, DBThread: dbThread})
			return nil
		})
		if err != nil {
			return err
		}

		sort.Slice(threads, func(i, j int) bool {
			return threads[i].LastSeq > threads[j].LastSeq
		})

		for _, t := range threads {
			entry := models.PartnerEntry{
				PartnerID:     models.WireID(t.peer),
				LatestMessage: t.LastMessage,
			}
			if dbUser, err := getUser(tx, t.peer); err == nil {
				entry.Name = dbUser.DisplayName
			}
			partners = append(partners, entry)
		}
		return nil
	})
	return partners, err
}

func touchThread(tx *bbolt.Tx, msg *DBMessage) error {
	b := tx.Bucket(bucketThreads)

	var dbThread DBThread
	if data := b.Get([]byte(msg.ThreadID)); data != nil {
		if err := dbThread.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal thread: %w", err)
		}
	} else {
		a, c := msg.SenderID, msg.ReceiverID
		if c < a {
			a, c = c, a
		}
		dbThread = DBThread{ID: msg.ThreadID, UserA: a, UserB: c}
	}

	dbThread.LastSeq = msg.Seq
	dbThread.LastMessage = msg.Content

	data, err := dbThread.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(dbThread.Key(), data)
}

func getUser(tx *bbolt.Tx, id string) (*DBUser, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbUser, nil
}

func (u *DBUser) user() models.User {
	return models.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        models.Role(u.Role),
	}
}

func (m *DBMessage) wire() models.WireMessage {
	return models.WireMessage{
		ID:         models.WireID(strconv.FormatUint(m.Seq, 10)),
		Content:    m.Content,
		SenderID:   models.WireID(m.SenderID),
		ReceiverID: models.WireID(m.ReceiverID),
		Timestamp:  time.Unix(0, m.Timestamp).UTC(),
	}
}
