package delivery

import (
	"context"
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/auth"
	"supporthub-ws/internal/domain"
	"supporthub-ws/internal/hub"
	"supporthub-ws/internal/infrastructure/kafka"
	"supporthub-ws/internal/infrastructure/redis"
	"supporthub-ws/internal/metrics"

	"github.com/gofiber/websocket/v2"
)

// wsConn adapts a fiber WebSocket connection to hub.Conn. The write
// mutex prevents concurrent writes; the deadline bounds each push so a
// dead peer cannot hold the writer forever.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMux     sync.Mutex
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSHandler owns the WebSocket side of the hub: connect, the read
// loop, and cross-instance event fan-in from Kafka.
type WSHandler struct {
	registry  *hub.Registry
	store     *hub.Store
	router    *hub.Router
	presence  *hub.Presence
	publisher hub.EventPublisher
	redis     *redis.Client
	hubID     string
	timeout   time.Duration
}

func NewWSHandler(registry *hub.Registry, store *hub.Store, router *hub.Router, presence *hub.Presence, publisher hub.EventPublisher, redisClient *redis.Client, hubID string, timeout time.Duration) *WSHandler {
	return &WSHandler{
		registry:  registry,
		store:     store,
		router:    router,
		presence:  presence,
		publisher: publisher,
		redis:     redisClient,
		hubID:     hubID,
		timeout:   timeout,
	}
}

// HandleConnection runs the lifecycle of one authenticated connection:
// register, welcome, read loop, teardown. Claims were already verified
// by the upgrade middleware; the registry still refuses unknown roles.
func (h *WSHandler) HandleConnection(c *websocket.Conn, claims auth.Claims) {
	conn := &wsConn{conn: c, writeTimeout: h.timeout}
	defer conn.Close()

	session, stale, err := h.registry.Register(claims.Subject, claims.Role, conn)
	if err != nil {
		log.Printf("Registration rejected for %s: %v", claims.Subject, err)
		h.sendError(conn, "registration rejected: "+err.Error())
		return
	}
	if stale != nil {
		log.Printf("Reconnect for %s superseded connection %s", claims.Subject, stale.Principal().ConnectionID)
	}

	principal := session.Principal()
	metrics.ConnectedPrincipals.WithLabelValues(string(principal.Role)).Inc()

	ctx := context.Background()
	if err := h.redis.AddToRoster(ctx, string(principal.Role), principal.ID, principal.ConnectionID.String()); err != nil {
		log.Printf("Failed to add %s to Redis roster: %v", principal.ID, err)
	}

	defer func() {
		removed := h.registry.Unregister(principal.ID, principal.ConnectionID)
		metrics.ConnectedPrincipals.WithLabelValues(string(principal.Role)).Dec()
		// A superseded connection must not wipe the successor's roster
		// entry.
		if removed != nil {
			if err := h.redis.RemoveFromRoster(ctx, string(principal.Role), principal.ID); err != nil {
				log.Printf("Failed to remove %s from Redis roster: %v", principal.ID, err)
			}
		}
		log.Printf("Disconnected: %s (%s) connection %s", principal.ID, principal.Role, principal.ConnectionID)
	}()

	h.sendWelcome(conn, principal)
	log.Printf("Connected: %s (%s) connection %s", principal.ID, principal.Role, principal.ConnectionID)

	for {
		var frame domain.ClientFrame
		if err := c.ReadJSON(&frame); err != nil {
			log.Printf("WebSocket read error for %s: %v", principal.ID, err)
			return
		}
		select {
		case <-session.Done():
			// Superseded by a newer connection; stop serving this one.
			return
		default:
		}
		h.handleFrame(ctx, session, conn, &frame)
	}
}

func (h *WSHandler) handleFrame(ctx context.Context, session *hub.Session, conn *wsConn, frame *domain.ClientFrame) {
	principal := session.Principal()

	switch frame.Type {
	case domain.OpSendDirect:
		h.handleSendDirect(ctx, conn, principal.ID, frame)

	case domain.OpSendToRole:
		h.handleSendToRole(ctx, conn, principal.ID, frame)

	case domain.OpTyping:
		h.handleTyping(ctx, principal, frame)

	case domain.OpListPrincipals:
		role, err := domain.ParseRole(frame.Role)
		if err != nil {
			h.sendError(conn, "unknown role: "+frame.Role)
			return
		}
		h.send(conn, domain.ServerFrame{
			Type:    domain.EventPrincipals,
			Success: true,
			Data: domain.RosterPayload{
				Role:       role,
				Principals: h.registry.ListByRole(role),
			},
		})

	case domain.OpFetchHistory:
		// Only parties to a conversation may read it; a client-asserted
		// role is never enough.
		if _, ok := domain.OtherParty(frame.ConversationKey, principal.ID); !ok {
			h.sendError(conn, "not a party to conversation")
			return
		}
		h.send(conn, domain.ServerFrame{
			Type:    domain.EventHistory,
			Success: true,
			Data: domain.HistoryPayload{
				ConversationKey: frame.ConversationKey,
				SinceSeq:        frame.SinceSeq,
				Messages:        h.store.History(frame.ConversationKey, frame.SinceSeq),
			},
		})

	case domain.OpResync:
		if err := h.router.Resync(ctx, session, frame.Cursors); err != nil {
			log.Printf("Resync failed for %s: %v", principal.ID, err)
		}

	case domain.OpPing:
		h.send(conn, domain.ServerFrame{
			Type:    domain.EventPong,
			Success: true,
			Data:    map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)},
		})

	default:
		log.Printf("Unknown frame type %q from %s", frame.Type, principal.ID)
		h.sendError(conn, "unknown frame type: "+frame.Type)
	}
}

func (h *WSHandler) handleSendDirect(ctx context.Context, conn *wsConn, fromID string, frame *domain.ClientFrame) {
	if frame.ToID == "" || frame.Body == "" {
		h.sendError(conn, "send_direct requires to_id and body")
		return
	}

	msg, err := h.router.Send(ctx, fromID, frame.ToID, frame.Body, frame.CorrelationID)
	switch {
	case err == nil, err == domain.ErrDestinationOffline:
		// Ack storage with the assigned seq so the sender can bind its
		// optimistic echo to this exact message. Delivered/failed
		// receipts follow separately.
		h.send(conn, domain.ServerFrame{
			Type:    domain.EventMessageAccepted,
			Success: true,
			Data:    msg,
		})
	case err == domain.ErrTransportFailure:
		// The failed receipt was already queued by the router.
	default:
		h.sendError(conn, "send failed: "+err.Error())
	}
}

func (h *WSHandler) handleSendToRole(ctx context.Context, conn *wsConn, fromID string, frame *domain.ClientFrame) {
	role, err := domain.ParseRole(frame.Role)
	if err != nil {
		h.sendError(conn, "unknown role: "+frame.Role)
		return
	}
	if frame.Body == "" {
		h.sendError(conn, "send_to_role requires body")
		return
	}

	messages, err := h.router.BroadcastToRole(ctx, fromID, role, frame.Body)
	if err != nil {
		h.sendError(conn, "broadcast failed: "+err.Error())
		return
	}
	h.send(conn, domain.ServerFrame{
		Type:    domain.EventMessageAccepted,
		Success: true,
		Data:    map[string]interface{}{"role": role, "recipients": len(messages)},
	})
}

func (h *WSHandler) handleTyping(ctx context.Context, principal domain.Principal, frame *domain.ClientFrame) {
	if _, ok := domain.OtherParty(frame.ConversationKey, principal.ID); !ok {
		return
	}
	if !h.presence.NotifyTyping(ctx, principal.ID, frame.ConversationKey) {
		return // throttled
	}

	sig := h.presence.Signal(principal.ID, principal.Role, frame.ConversationKey)
	h.router.RelayTyping(ctx, sig)
	if h.publisher != nil {
		if err := h.publisher.PublishPresence(ctx, sig); err != nil {
			log.Printf("Failed to publish typing signal: %v", err)
		}
	}
}

func (h *WSHandler) sendWelcome(conn *wsConn, p domain.Principal) {
	h.send(conn, domain.ServerFrame{
		Type:    domain.EventConnectionEstablished,
		Success: true,
		Data: domain.WelcomePayload{
			PrincipalID:  p.ID,
			Role:         p.Role,
			ConnectionID: p.ConnectionID.String(),
			ConnectedAt:  p.ConnectedAt,
		},
	})
}

func (h *WSHandler) sendError(conn *wsConn, msg string) {
	h.send(conn, domain.ServerFrame{
		Type:    domain.EventError,
		Success: false,
		Error:   msg,
	})
}

func (h *WSHandler) send(conn *wsConn, frame domain.ServerFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("Failed to write frame %s: %v", frame.Type, err)
	}
}

// HandleMessageEvent forwards a chat message published by a sibling hub
// instance to its destination if that principal is connected here.
// Implements kafka.EventHandler.
func (h *WSHandler) HandleMessageEvent(event kafka.MessageEvent) {
	if event.Origin == h.hubID {
		return // our own publish
	}
	msg := event.Message
	destID, ok := domain.OtherParty(msg.ConversationKey, msg.SenderID)
	if !ok {
		return
	}
	h.router.DeliverLocal(context.Background(), destID, msg)
}

// HandlePresenceEvent forwards a sibling instance's typing or
// online/offline signal to locally connected principals.
func (h *WSHandler) HandlePresenceEvent(event kafka.PresenceEvent) {
	if event.Origin == h.hubID {
		return
	}
	ctx := context.Background()
	if event.Signal.Kind == domain.PresenceTyping {
		h.router.RelayTyping(ctx, event.Signal)
		return
	}
	h.router.BroadcastPresenceLocal(ctx, event.Signal)
}
