package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-relay/internal/auth"
	"chat-relay/internal/media"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/protocol"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

type sessionState int

const (
	stateConnected sessionState = iota
	stateAuthenticating
	stateAuthenticated
	stateRejected
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateAuthenticating:
		return "authenticating"
	case stateAuthenticated:
		return "authenticated"
	case stateRejected:
		return "rejected"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// SessionHandler upgrades websocket connections and drives the per-connection
// state machine over the shared services.
type SessionHandler struct {
	hub           *Hub
	auth          *auth.Service
	messages      repositories.MessageRepository
	media         *media.Store
	syncer        *Syncer
	audit         *telemetry.AuditEmitter
	maxFrameBytes int64
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, authSvc *auth.Service, messages repositories.MessageRepository, mediaStore *media.Store, syncer *Syncer, audit *telemetry.AuditEmitter, maxFrameBytes int64) *SessionHandler {
	return &SessionHandler{
		hub:           hub,
		auth:          authSvc,
		messages:      messages,
		media:         mediaStore,
		syncer:        syncer,
		audit:         audit,
		maxFrameBytes: maxFrameBytes,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and hands it to a session goroutine.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	// Oversized frames are rejected here at the transport, never inside the
	// media handler.
	conn.SetReadLimit(h.maxFrameBytes)

	client := NewClient(conn)
	client.DeviceID = observability.DeviceIDFromRequest(c.Request)
	client.IP = observability.IPFromRequest(c.Request)
	client.RequestID = observability.RequestIDFromRequest(c.Request)
	client.TraceID = span.SpanContext().TraceID().String()

	observability.IncWSEvent("ws_connect")
	publishSessionEvent(ctx, "ws_connect", client, "")

	// The request context is cancelled the moment Handle returns, upgraded
	// connections included. The session and its database calls outlive it.
	go h.run(context.WithoutCancel(ctx), client)
}

type flagHandler func(ctx context.Context, env protocol.Envelope)

type session struct {
	h          *SessionHandler
	client     *Client
	state      sessionState
	user       models.User
	registered bool
	handlers   map[protocol.Flag]flagHandler
}

func (h *SessionHandler) run(ctx context.Context, client *Client) {
	s := &session{h: h, client: client, state: stateConnected}
	s.handlers = map[protocol.Flag]flagHandler{
		protocol.FlagText:            s.handleText,
		protocol.FlagClientHeartbeat: s.handleHeartbeat,
		protocol.FlagSyncRequest:     s.handleSyncRequest,
		protocol.FlagImage:           s.handleImage,
		protocol.FlagFile:            s.handleFile,
		protocol.FlagAvatar:          s.handleAvatar,
	}

	closeReason := ""
	defer func() { s.close(ctx, closeReason) }()

	s.state = stateAuthenticating
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("dropping malformed envelope conn_id=%s: %v", client.ConnID, err)
			continue
		}

		if s.state != stateActive {
			if rejected := s.handshake(ctx, env); rejected {
				closeReason = "authentication rejected"
				return
			}
			continue
		}

		s.dispatch(ctx, env)
	}
}

// handshake processes envelopes until the session is authenticated. It
// reports true when the server must close the transport (failed login).
// Registration keeps the connection open: the client is expected to follow up
// with an explicit login envelope.
func (s *session) handshake(ctx context.Context, env protocol.Envelope) bool {
	switch env.Flag {
	case protocol.FlagLogin:
		user, ok, err := s.h.auth.Authenticate(ctx, env.ID, env.Message)
		if err != nil {
			log.Printf("authenticate user_id=%d: %v", env.ID, err)
		}
		if err != nil || !ok {
			s.state = stateRejected
			s.reply(protocol.Envelope{Flag: protocol.FlagLogin, ID: env.ID, Message: protocol.StatusLoginFail})
			observability.IncWSEvent("login_fail")
			s.h.audit.Emit(ctx, "WARN", fmt.Sprintf("login rejected for user_id=%d", env.ID), s.client.RequestID, nil)
			return true
		}

		s.user = user
		s.state = stateAuthenticated
		s.client.UserID = user.ID
		s.client.Username = user.Username
		s.reply(protocol.Envelope{Flag: protocol.FlagLogin, ID: user.ID, Name: user.Username, Message: protocol.StatusLoginSuccess})

		s.h.hub.Register(s.client)
		s.registered = true
		s.state = stateActive
		observability.IncWSActive()
		observability.IncWSEvent("login_success")
		uid := strconv.FormatInt(user.ID, 10)
		s.h.audit.Emit(ctx, "INFO", "login success", s.client.RequestID, &uid)
		log.Printf("session active user_id=%d username=%s conn_id=%s", user.ID, user.Username, s.client.ConnID)

	case protocol.FlagRegister:
		id, err := s.h.auth.Register(ctx, env.Name, env.Message)
		if err != nil {
			if errors.Is(err, auth.ErrUsernameTaken) {
				log.Printf("registration conflict username=%q", env.Name)
			} else {
				log.Printf("registration failed username=%q: %v", env.Name, err)
			}
			s.reply(protocol.Envelope{Flag: protocol.FlagRegister, Name: env.Name, Message: protocol.StatusRegisteredFail})
			observability.IncWSEvent("register_fail")
			return false
		}

		s.reply(protocol.Envelope{Flag: protocol.FlagRegister, ID: id, Name: env.Name, Message: protocol.StatusRegistered})
		observability.IncWSEvent("register_success")
		uid := strconv.FormatInt(id, 10)
		s.h.audit.Emit(ctx, "INFO", "account registered", s.client.RequestID, &uid)
		log.Printf("registered user_id=%d username=%s", id, env.Name)

	default:
		log.Printf("dropping pre-auth envelope flag=%s conn_id=%s", env.Flag, s.client.ConnID)
	}
	return false
}

func (s *session) dispatch(ctx context.Context, env protocol.Envelope) {
	handler, ok := s.handlers[env.Flag]
	if !ok {
		log.Printf("dropping unhandled envelope flag=%s user_id=%d", env.Flag, s.user.ID)
		observability.IncWSEvent("unhandled_flag")
		return
	}
	handler(ctx, env)
}

func (s *session) handleText(ctx context.Context, env protocol.Envelope) {
	s.persistAndBroadcast(ctx, protocol.FlagText, env.Message)
}

func (s *session) handleImage(ctx context.Context, env protocol.Envelope) {
	path, err := s.h.media.Save(env.Message, "chat", s.user.ID)
	if err != nil {
		log.Printf("dropping image message user_id=%d: %v", s.user.ID, err)
		observability.IncWSEvent("media_decode_failure")
		return
	}
	observability.IncMediaStored("chat")
	s.persistAndBroadcast(ctx, protocol.FlagImage, path)
}

func (s *session) handleFile(ctx context.Context, env protocol.Envelope) {
	// The payload is already a file reference; no media decode here.
	s.persistAndBroadcast(ctx, protocol.FlagFile, env.Message)
}

func (s *session) handleHeartbeat(ctx context.Context, env protocol.Envelope) {
	s.h.hub.Touch(s.user.ID)
}

func (s *session) handleSyncRequest(ctx context.Context, env protocol.Envelope) {
	if err := s.h.syncer.Replay(ctx, s.client, env.Message); err != nil {
		log.Printf("offline sync failed user_id=%d watermark=%q: %v", s.user.ID, env.Message, err)
	}
}

func (s *session) handleAvatar(ctx context.Context, env protocol.Envelope) {
	path, err := s.h.media.Save(env.Message, "avatar", s.user.ID)
	if err != nil {
		log.Printf("dropping avatar update user_id=%d: %v", s.user.ID, err)
		observability.IncWSEvent("media_decode_failure")
		return
	}
	observability.IncMediaStored("avatar")
	// Avatars are relayed live but not written into history.
	s.h.hub.Broadcast(protocol.Envelope{
		Flag:      protocol.FlagAvatar,
		ID:        s.user.ID,
		Name:      s.user.Username,
		Message:   path,
		Timestamp: time.Now().UTC(),
	})
}

// persistAndBroadcast writes the message to history and, only once durable,
// fans it out to every registered connection. A lost write is logged and the
// message is not delivered; history is the source of global order.
func (s *session) persistAndBroadcast(ctx context.Context, flag protocol.Flag, body string) {
	msg := models.Message{
		SenderID:   s.user.ID,
		SenderName: s.user.Username,
		Body:       body,
		Timestamp:  time.Now().UTC(),
		Type:       int(flag),
	}

	stored, err := s.h.messages.CreateMessage(ctx, msg)
	if err != nil {
		log.Printf("persist message failed user_id=%d flag=%s: %v", s.user.ID, flag, err)
		observability.IncPersistenceError()
		return
	}
	observability.IncMessagePersisted(flag.String())

	s.h.hub.Broadcast(protocol.Envelope{
		Flag:      flag,
		ID:        stored.SenderID,
		Name:      stored.SenderName,
		Message:   stored.Body,
		Timestamp: stored.Timestamp,
	})
}

// close tears the session down. Unconditional and idempotent: it runs on
// transport closure in any state, and Unregister only removes the registry
// entry if it still belongs to this client.
func (s *session) close(ctx context.Context, reason string) {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed

	if s.registered {
		if s.h.hub.Unregister(s.user.ID, s.client) {
			observability.DecWSActive()
		}
	}
	s.client.Close()

	observability.IncWSEvent("ws_disconnect")
	publishSessionEvent(ctx, "ws_disconnect", s.client, reason)
	log.Printf("session closed user_id=%d conn_id=%s reason=%q", s.user.ID, s.client.ConnID, reason)
}

func (s *session) reply(env protocol.Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if err := s.client.Send(env); err != nil {
		log.Printf("reply write failed conn_id=%s: %v", s.client.ConnID, err)
	}
}

func publishSessionEvent(ctx context.Context, event string, c *Client, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     c.ConnID,
			"duration_ms": time.Since(c.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   c.UserID,
			"device_id": c.DeviceID,
			"ip":        c.IP,
		},
	}

	headers := observability.BuildHeaders(c.RequestID, c.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
