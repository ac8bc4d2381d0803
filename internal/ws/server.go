package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"poputka/internal/content"
	"poputka/internal/logging"
	"poputka/internal/models"
)

// HistorySource loads the backlog sent to a subscriber when it connects.
type HistorySource interface {
	ListThread(a, b string) ([]models.WireMessage, error)
}

type Server struct {
	hub      *Hub
	history  HistorySource
	upgrader *websocket.Upgrader
	log      *zap.Logger
}

func NewServer(hub *Hub, history HistorySource, logger *zap.Logger) *Server {
	return &Server{
		hub:     hub,
		history: history,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // terminal clients send no Origin
			},
		},
		log: logging.OrNop(logger).With(zap.String("component", "stream")),
	}
}

// HandleStream upgrades GET /api/chats/stream?userId=&partnerId= and streams
// the thread: first the full history, then every new message.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	partnerID := r.URL.Query().Get("partnerId")
	if err := content.ValidateUserID(userID); err != nil {
		http.Error(w, "Invalid userId: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := content.ValidateUserID(partnerID); err != nil {
		http.Error(w, "Invalid partnerId: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading to websocket", zap.Error(err))
		return
	}

	log := s.log.With(zap.String("user_id", userID), zap.String("partner_id", partnerID))
	log.Debug("stream subscriber connected")

	c := NewConnection(s.hub, conn, userID, partnerID)
	backlog := func() ([]models.WireMessage, error) {
		return s.history.ListThread(userID, partnerID)
	}
	if err := c.Handle(r.Context(), backlog); err != nil &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug("stream subscriber disconnected", zap.Error(err))
	}
}
