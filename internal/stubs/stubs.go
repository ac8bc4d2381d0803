package stubs

import (
	"time"

	"poputka/internal/models"
)

// Users are the demo accounts seeded into a fresh development database.
var Users = []models.User{
	{ID: "1", DisplayName: "Aigerim", Role: models.RoleSender},
	{ID: "2", DisplayName: "Timur", Role: models.RoleSender},
	{ID: "101", DisplayName: "Dana", Role: models.RoleTraveler},
	{ID: "102", DisplayName: "Nurlan", Role: models.RoleTraveler},
}

// Conversation is a seeded message. At is relative to the seeding time.
type Conversation struct {
	SenderID   string
	ReceiverID string
	Content    string
	At         time.Duration
}

var Conversations = []Conversation{
	{SenderID: "1", ReceiverID: "101", Content: "Hi! Are you flying to Almaty on Friday?", At: -2 * time.Hour},
	{SenderID: "101", ReceiverID: "1", Content: "Yes, I land at 18:00. What do you need delivered?", At: -110 * time.Minute},
	{SenderID: "1", ReceiverID: "101", Content: "A small box with documents, about 1 kg.", At: -100 * time.Minute},
	{SenderID: "2", ReceiverID: "102", Content: "Can you take a parcel to Astana?", At: -30 * time.Minute},
}

// Store is where the demo data goes.
type Store interface {
	UpsertUser(user models.User) error
	AppendMessage(senderID, receiverID, body string, ts time.Time) (models.WireMessage, error)
	ListThread(a, b string) ([]models.WireMessage, error)
}

// Seed stores the demo users and, for threads that are still empty, the demo
// conversations. Seeding an already seeded store changes nothing.
func Seed(store Store, now time.Time) error {
	for _, u := range Users {
		if err := store.UpsertUser(u); err != nil {
			return err
		}
	}

	empty := make(map[string]bool)
	for _, c := range Conversations {
		key := models.ThreadKey(c.SenderID, c.ReceiverID)
		if _, seen := empty[key]; !seen {
			msgs, err := store.ListThread(c.SenderID, c.ReceiverID)
			if err != nil {
				return err
			}
			empty[key] = len(msgs) == 0
		}
		if !empty[key] {
			continue
		}
		if _, err := store.AppendMessage(c.SenderID, c.ReceiverID, c.Content, now.Add(c.At).UTC()); err != nil {
			return err
		}
	}
	return nil
}
