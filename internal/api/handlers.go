package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"poputka/internal/content"
	"poputka/internal/logging"
	"poputka/internal/models"
)

// Store is the persistence the chat API needs.
type Store interface {
	GetUser(id string) (models.User, error)
	AppendMessage(senderID, receiverID, body string, ts time.Time) (models.WireMessage, error)
	ListThread(a, b string) ([]models.WireMessage, error)
	ListPartners(userID string) ([]models.PartnerEntry, error)
}

// Publisher pushes persisted messages to live subscribers.
type Publisher interface {
	Publish(msg models.WireMessage)
}

type Config struct {
	Store     Store
	Publisher Publisher
	Metrics   *Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

type API struct {
	store     Store
	publisher Publisher
	metrics   *Metrics
	log       *zap.Logger
	now       func() time.Time
}

func New(config Config) *API {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &API{
		store:     config.Store,
		publisher: config.Publisher,
		metrics:   config.Metrics,
		log:       logging.OrNop(config.Logger).With(zap.String("component", "api")),
		now:       config.Now,
	}
}

// PartnersHandler serves GET /api/chats/partners?userId=.
func (a *API) PartnersHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if err := content.ValidateUserID(userID); err != nil {
		http.Error(w, "Invalid userId: "+err.Error(), http.StatusBadRequest)
		return
	}

	if a.metrics != nil {
		a.metrics.partnerReads.Inc()
	}

	partners, err := a.store.ListPartners(userID)
	if err != nil {
		a.log.Error("failed to list partners", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, partners)
}

// HistoryHandler serves GET /api/chats?senderId=&receiverId=. The thread is
// the same whichever participant asks.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	senderID := r.URL.Query().Get("senderId")
	receiverID := r.URL.Query().Get("receiverId")
	if err := content.ValidateUserID(senderID); err != nil {
		http.Error(w, "Invalid senderId: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := content.ValidateUserID(receiverID); err != nil {
		http.Error(w, "Invalid receiverId: "+err.Error(), http.StatusBadRequest)
		return
	}

	if a.metrics != nil {
		a.metrics.historyReads.Inc()
	}

	msgs, err := a.store.ListThread(senderID, receiverID)
	if err != nil {
		a.log.Error("failed to list thread", zap.String("thread", models.ThreadKey(senderID, receiverID)), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, msgs)
}

// SendHandler serves POST /api/chats.
func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.reject(w, "body", "Invalid request body")
		return
	}

	if err := content.ValidateUserID(req.SenderID); err != nil {
		a.reject(w, "participants", "Invalid senderId: "+err.Error())
		return
	}
	if err := content.ValidateUserID(req.ReceiverID); err != nil {
		a.reject(w, "participants", "Invalid receiverId: "+err.Error())
		return
	}
	if req.SenderID == req.ReceiverID {
		a.reject(w, "participants", "Cannot send a message to yourself")
		return
	}

	body := content.Sanitize(req.Content)
	if err := content.Validate(body); err != nil {
		reason := "content"
		if errors.Is(err, content.ErrTooLong) {
			reason = "too_long"
		}
		a.reject(w, reason, err.Error())
		return
	}

	msg, err := a.store.AppendMessage(req.SenderID, req.ReceiverID, body, a.now().UTC())
	if err != nil {
		a.log.Error("failed to store message", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if a.metrics != nil {
		a.metrics.messagesSent.Inc()
	}
	if a.publisher != nil {
		a.publisher.Publish(msg)
	}

	a.log.Debug("message stored",
		zap.String("id", msg.ID.String()),
		zap.String("thread", models.ThreadKey(req.SenderID, req.ReceiverID)))

	a.writeJSON(w, http.StatusCreated, models.SendResponse{ID: msg.ID, Timestamp: msg.Timestamp})
}

// UserHandler serves GET /api/users/{id}.
func (a *API) UserHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := content.ValidateUserID(id); err != nil {
		http.Error(w, "Invalid user id: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := a.store.GetUser(id)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error("failed to get user", zap.String("user_id", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, user)
}

func (a *API) reject(w http.ResponseWriter, reason, msg string) {
	if a.metrics != nil {
		a.metrics.messagesRejected.WithLabelValues(reason).Inc()
	}
	http.Error(w, msg, http.StatusBadRequest)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("failed to encode response", zap.Error(err))
	}
}
