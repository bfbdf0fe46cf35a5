package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/aescanero/dago-probe/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusSource returns the current status document of an instance
type StatusSource interface {
	GetStatus(ctx context.Context, instanceID string) (*domain.Instance, error)
}

// Message is one frame sent to the client
type Message struct {
	// Type is "status" for the initial snapshot, otherwise the event type
	Type     string           `json:"type"`
	Instance *domain.Instance `json:"instance,omitempty"`
	Event    *domain.Event    `json:"event,omitempty"`
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	status   StatusSource
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, status StatusSource, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		status:   status,
		logger:   logger,
	}
}

// HandleInstanceStream streams the status of one instance until it finishes
// or the client goes away
func (h *Handler) HandleInstanceStream(c *gin.Context) {
	instanceID := c.Param("id")

	instance, err := h.status.GetStatus(c.Request.Context(), instanceID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInstanceNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("instance_id", instanceID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe, then re-read the snapshot, so no transition is missed
	events := make(chan domain.Event, 16)
	group := "ws-" + uuid.New().String()
	if err := h.subscribe(ctx, instanceID, group, events); err != nil {
		h.logger.Error("failed to subscribe to instance events", zap.Error(err))
		return
	}
	defer h.release(group)

	if latest, err := h.status.GetStatus(ctx, instanceID); err == nil {
		instance = latest
	}

	// Detect client close; reads are otherwise ignored
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, Message{Type: "status", Instance: instance}); err != nil {
		return
	}
	if instance.RuntimeStatus.IsTerminal() {
		h.close(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := h.write(conn, Message{Type: string(event.Type), Event: &event}); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}
			if event.IsFinal() {
				h.close(conn)
				return
			}
		}
	}
}

// subscribe forwards this instance's events to ch. Each connection is its own
// group so every stream sees every event.
func (h *Handler) subscribe(ctx context.Context, instanceID, group string, ch chan<- domain.Event) error {
	return h.eventBus.Subscribe(ctx, domain.TopicInstances, group, func(ctx context.Context, event domain.Event) error {
		if event.InstanceID != instanceID {
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	})
}

// release drops the connection's group on buses that keep groups server-side
func (h *Handler) release(group string) {
	destroyer, ok := h.eventBus.(interface {
		DestroyGroup(ctx context.Context, topic, group string) error
	})
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := destroyer.DestroyGroup(ctx, domain.TopicInstances, group); err != nil {
		h.logger.Debug("failed to destroy subscriber group", zap.String("group", group), zap.Error(err))
	}
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (h *Handler) close(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "instance finished"),
		time.Now().Add(writeTimeout))
}
