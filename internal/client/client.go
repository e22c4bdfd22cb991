// Package client is a Go client for the support hub. It owns the
// client half of the reconnection contract: capped exponential backoff
// with a terminal disconnected state, per-conversation last-seen seq
// cursors, and optimistic local echo resolved by correlation id rather
// than by position.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle as the caller sees it.
// StateDisconnected is terminal: the attempt budget is spent and the
// caller decides what happens next.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

var ErrDisconnected = errors.New("client disconnected")

// Echo is an optimistic local message. It is created on Send with
// state sent and resolved to delivered or failed by the exact receipt
// for its correlation id.
type Echo struct {
	CorrelationID   string
	ConversationKey string
	ToID            string
	Body            string
	Seq             int64
	State           domain.DeliveryState
}

// Handlers are the caller's event callbacks. All are optional. They
// run on the read-loop goroutine.
type Handlers struct {
	OnMessage  func(msg domain.Message)
	OnEcho     func(echo Echo)
	OnTyping   func(sig domain.PresenceSignal)
	OnPresence func(sig domain.PresenceSignal)
	OnState    func(state State)
}

// Options configures a Client.
type Options struct {
	URL            string // ws endpoint, e.g. ws://localhost:8082/ws
	Token          string
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	TypingThrottle time.Duration
}

// Client maintains one hub connection across reconnects.
type Client struct {
	opts     Options
	handlers Handlers
	selfID   string

	mu         sync.Mutex
	writeMux   sync.Mutex
	conn       *websocket.Conn
	state      State
	cursors    map[string]int64
	pending    map[string]*Echo
	lastTyping map[string]time.Time
}

// serverFrame mirrors the wire envelope with the payload kept raw so
// it can be decoded per event type.
type serverFrame struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

func New(selfID string, opts Options, handlers Handlers) *Client {
	if opts.TypingThrottle <= 0 {
		opts.TypingThrottle = time.Second
	}
	return &Client{
		opts:       opts,
		handlers:   handlers,
		selfID:     selfID,
		state:      StateConnecting,
		cursors:    make(map[string]int64),
		pending:    make(map[string]*Echo),
		lastTyping: make(map[string]time.Time),
	}
}

// Run connects and serves events until the context ends or the
// reconnect budget is spent. On every successful connect it resyncs
// with the tracked cursors, so the caller sees no duplicate and no
// skipped messages across reconnects.
func (c *Client) Run(ctx context.Context) error {
	backoff := NewBackoff(c.opts.BaseBackoff, c.opts.MaxBackoff, c.opts.MaxAttempts)

	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			delay, ok := backoff.Next()
			if !ok {
				log.Printf("Reconnect budget spent after %d attempts: %v", backoff.Attempt(), err)
				c.setState(StateDisconnected)
				return ErrDisconnected
			}
			log.Printf("Connect failed (attempt %d): %v, retrying in %s", backoff.Attempt(), err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			}
		}

		backoff.Reset()
		c.setConn(conn)
		c.setState(StateConnected)

		if err := c.resync(); err != nil {
			log.Printf("Resync request failed: %v", err)
		}

		c.readLoop(ctx, conn)
		c.setConn(nil)
		c.setState(StateConnecting)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.opts.URL+"?token="+c.opts.Token, nil)
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Printf("Read error: %v", err)
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame serverFrame) {
	switch frame.Type {
	case domain.EventMessageReceived:
		var msg domain.Message
		if json.Unmarshal(frame.Data, &msg) != nil {
			return
		}
		c.acceptMessage(msg)

	case domain.EventHistory:
		var payload domain.HistoryPayload
		if json.Unmarshal(frame.Data, &payload) != nil {
			return
		}
		for _, msg := range payload.Messages {
			c.acceptMessage(msg)
		}

	case domain.EventMessageAccepted:
		var msg domain.Message
		if json.Unmarshal(frame.Data, &msg) != nil {
			return
		}
		c.bindEcho(msg)

	case domain.EventMessageDelivered, domain.EventMessageFailed:
		var receipt domain.DeliveryReceipt
		if json.Unmarshal(frame.Data, &receipt) != nil {
			return
		}
		state := domain.DeliveryDelivered
		if frame.Type == domain.EventMessageFailed {
			state = domain.DeliveryFailed
		}
		c.resolveEcho(receipt, state)

	case domain.EventTyping:
		var sig domain.PresenceSignal
		if json.Unmarshal(frame.Data, &sig) != nil {
			return
		}
		if c.handlers.OnTyping != nil {
			c.handlers.OnTyping(sig)
		}

	case domain.EventPrincipalOnline, domain.EventPrincipalOffline:
		var sig domain.PresenceSignal
		if json.Unmarshal(frame.Data, &sig) != nil {
			return
		}
		if c.handlers.OnPresence != nil {
			c.handlers.OnPresence(sig)
		}

	case domain.EventError:
		log.Printf("Hub error: %s", frame.Error)
	}
}

// acceptMessage advances the conversation cursor and surfaces the
// message once. Frames at or below the cursor are reconnect replays
// the client already has.
func (c *Client) acceptMessage(msg domain.Message) {
	c.mu.Lock()
	if msg.Seq <= c.cursors[msg.ConversationKey] {
		c.mu.Unlock()
		return
	}
	c.cursors[msg.ConversationKey] = msg.Seq

	// Own messages replayed from history resolve their pending echo
	// instead of surfacing as inbound.
	if msg.SenderID == c.selfID {
		if echo, ok := c.pending[msg.CorrelationID]; ok && msg.CorrelationID != "" {
			echo.Seq = msg.Seq
			echo.State = msg.DeliveryState
			c.mu.Unlock()
			c.notifyEcho(*echo)
			return
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
}

func (c *Client) bindEcho(msg domain.Message) {
	c.mu.Lock()
	echo, ok := c.pending[msg.CorrelationID]
	if ok {
		echo.Seq = msg.Seq
		echo.ConversationKey = msg.ConversationKey
	}
	c.mu.Unlock()
	if ok {
		c.notifyEcho(*echo)
	}
}

func (c *Client) resolveEcho(receipt domain.DeliveryReceipt, state domain.DeliveryState) {
	c.mu.Lock()
	echo, ok := c.pending[receipt.CorrelationID]
	if ok {
		// Terminal states only advance forward.
		if echo.State == domain.DeliverySent {
			echo.State = state
			echo.Seq = receipt.Seq
		}
		if echo.State == domain.DeliveryDelivered {
			delete(c.pending, receipt.CorrelationID)
		}
	}
	c.mu.Unlock()
	if ok {
		c.notifyEcho(*echo)
	}
}

func (c *Client) notifyEcho(echo Echo) {
	if c.handlers.OnEcho != nil {
		c.handlers.OnEcho(echo)
	}
}

// Send writes a direct message with a fresh correlation id and records
// the optimistic echo. A failed send stays visible in Pending until
// the caller retries it as a new Send.
func (c *Client) Send(toID, body string) (string, error) {
	correlationID := uuid.New().String()
	echo := &Echo{
		CorrelationID:   correlationID,
		ConversationKey: domain.ConversationKey(c.selfID, toID),
		ToID:            toID,
		Body:            body,
		State:           domain.DeliverySent,
	}

	c.mu.Lock()
	c.pending[correlationID] = echo
	c.mu.Unlock()
	c.notifyEcho(*echo)

	err := c.writeFrame(domain.ClientFrame{
		Type:          domain.OpSendDirect,
		ToID:          toID,
		Body:          body,
		CorrelationID: correlationID,
	})
	if err != nil {
		c.resolveEcho(domain.DeliveryReceipt{CorrelationID: correlationID}, domain.DeliveryFailed)
		return correlationID, err
	}
	return correlationID, nil
}

// Retry re-sends a failed message as a brand-new send, never a hidden
// resend of the old one.
func (c *Client) Retry(correlationID string) (string, error) {
	c.mu.Lock()
	echo, ok := c.pending[correlationID]
	if !ok || echo.State != domain.DeliveryFailed {
		c.mu.Unlock()
		return "", domain.ErrNotFound
	}
	delete(c.pending, correlationID)
	toID, body := echo.ToID, echo.Body
	c.mu.Unlock()

	return c.Send(toID, body)
}

// SendToRole fans a message out to every connected principal of a
// role.
func (c *Client) SendToRole(role domain.Role, body string) error {
	return c.writeFrame(domain.ClientFrame{
		Type: domain.OpSendToRole,
		Role: string(role),
		Body: body,
	})
}

// Typing emits a typing signal, throttled to one per conversation per
// throttle window.
func (c *Client) Typing(conversationKey string) error {
	c.mu.Lock()
	now := time.Now()
	if last, ok := c.lastTyping[conversationKey]; ok && now.Sub(last) < c.opts.TypingThrottle {
		c.mu.Unlock()
		return nil
	}
	c.lastTyping[conversationKey] = now
	c.mu.Unlock()

	return c.writeFrame(domain.ClientFrame{
		Type:            domain.OpTyping,
		ConversationKey: conversationKey,
	})
}

// FetchHistory requests messages above sinceSeq for a conversation.
func (c *Client) FetchHistory(conversationKey string, sinceSeq int64) error {
	return c.writeFrame(domain.ClientFrame{
		Type:            domain.OpFetchHistory,
		ConversationKey: conversationKey,
		SinceSeq:        sinceSeq,
	})
}

// ListPrincipals requests the connected roster for a role.
func (c *Client) ListPrincipals(role domain.Role) error {
	return c.writeFrame(domain.ClientFrame{
		Type: domain.OpListPrincipals,
		Role: string(role),
	})
}

// resync asks the hub to replay every conversation gap above the
// tracked cursors.
func (c *Client) resync() error {
	c.mu.Lock()
	cursors := make(map[string]int64, len(c.cursors))
	for k, v := range c.cursors {
		cursors[k] = v
	}
	c.mu.Unlock()

	return c.writeFrame(domain.ClientFrame{
		Type:    domain.OpResync,
		Cursors: cursors,
	})
}

func (c *Client) writeFrame(frame domain.ClientFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrDisconnected
	}

	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	return conn.WriteJSON(frame)
}

// Pending snapshots unresolved and failed echoes, so a UI can keep
// failed sends visible with a retry affordance.
func (c *Client) Pending() []Echo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Echo, 0, len(c.pending))
	for _, echo := range c.pending {
		out = append(out, *echo)
	}
	return out
}

// Cursor returns the last-seen seq for a conversation.
func (c *Client) Cursor(conversationKey string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[conversationKey]
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.handlers.OnState != nil {
		c.handlers.OnState(state)
	}
}
