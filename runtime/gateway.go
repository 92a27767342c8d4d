// Package runtime holds the live side of the messaging core: the room
// registry, connection sessions and the event gateway routing frames
// between them. Persistence and read models live elsewhere.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"market-chat/contract"
	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/errors"
	"market-chat/observability"
	"market-chat/projection"
	"market-chat/repositories"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultStoreTimeout = 5 * time.Second

type SessionState int32

const (
	Connecting SessionState = iota
	Authenticated
	Active
	Disconnected
	Rejected
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Disconnected:
		return "disconnected"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Session is one live connection. UserID never changes once set.
type Session struct {
	ID     domain.ConnectionID
	UserID string

	sink  contract.ConnectionSink
	state atomic.Int32
	once  sync.Once
	log   *slog.Logger
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
	s.log.Debug("Session state changed", "state", state)
}

// SinkFactory opens the outbound side of a connection once its identity is known.
type SinkFactory func(id domain.ConnectionID) (contract.ConnectionSink, error)

// ContentPolicy reports the blocked words found in a message body.
type ContentPolicy interface {
	Blocked(text string) []string
}

type GatewayConfig struct {
	StoreTimeout     time.Duration
	MaxMessageLength int
	// Policy screens bodies before they are stored. Nil accepts everything.
	Policy ContentPolicy
}

// Gateway authenticates connections, dispatches their events and fans out
// persisted messages through the registry.
//
// Locking: the sessions map lock is held while copying sinks out of it and
// while a new session is registered with its user room. No lock is held
// while calling the store, the authenticator or a sink.
type Gateway struct {
	log        *slog.Logger
	registry   contract.IRegistry
	auth       contract.IAuthenticator
	messages   repositories.IMessageRepository
	payloads   *projection.PayloadBuilder
	monitoring *observability.MonitoringManager
	cfg        GatewayConfig

	mu       sync.RWMutex
	sessions map[domain.ConnectionID]*Session
	closed   bool
}

func NewGateway(
	log *slog.Logger,
	registry contract.IRegistry,
	auth contract.IAuthenticator,
	messages repositories.IMessageRepository,
	payloads *projection.PayloadBuilder,
	monitoring *observability.MonitoringManager,
	cfg GatewayConfig,
) *Gateway {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Gateway{
		log:        log.With("component", "gateway"),
		registry:   registry,
		auth:       auth,
		messages:   messages,
		payloads:   payloads,
		monitoring: monitoring,
		cfg:        cfg,
		sessions:   make(map[domain.ConnectionID]*Session),
	}
}

// Connect authenticates credential and, only on success, opens the sink and
// subscribes the connection to its user room. A rejected connection never
// gets a sink nor a room.
func (g *Gateway) Connect(ctx context.Context, credential string, newSink SinkFactory) (*Session, error) {
	if g.isClosed() {
		return nil, errors.ErrGatewayClosed
	}
	id := domain.ConnectionID(uuid.NewString())
	sess := &Session{ID: id, log: g.log.With("connection_id", id)}
	sess.setState(Connecting)

	userID, err := g.auth.Authenticate(ctx, credential)
	if err != nil {
		sess.setState(Rejected)
		g.monitoring.IncrRejected()
		g.log.Info("Connection refused", "connection_id", id, "error", err)
		return nil, err
	}
	sess.UserID = userID
	sess.log = sess.log.With("user_id", userID)
	sess.setState(Authenticated)

	sink, err := newSink(id)
	if err != nil {
		sess.setState(Disconnected)
		return nil, err
	}
	sess.sink = sink

	// Registration, the user room join and activation happen under the same
	// lock Shutdown takes, so a closing gateway either sees the whole session
	// or none of it.
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sess.setState(Disconnected)
		_ = sink.Close()
		return nil, errors.ErrGatewayClosed
	}
	g.sessions[id] = sess
	g.registry.Join(id, domain.User(userID))
	sess.state.CompareAndSwap(int32(Authenticated), int32(Active))
	g.monitoring.ConnectionOpened()
	g.mu.Unlock()

	sess.log.Info("Connection accepted")
	return sess, nil
}

// HandleFrame decodes a raw client frame and handles it.
func (g *Gateway) HandleFrame(ctx context.Context, sess *Session, frame []byte) error {
	var in event.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		err = fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
		g.reportError(ctx, sess, err)
		return err
	}
	if in.Event == "" {
		err := fmt.Errorf("%w: missing event name", errors.ErrInvalidFrame)
		g.reportError(ctx, sess, err)
		return err
	}
	return g.Handle(ctx, sess, in)
}

// Handle dispatches one client event. Any failure is reported to the
// originating connection as exactly one error event and returned; the
// connection stays open.
func (g *Gateway) Handle(ctx context.Context, sess *Session, in event.Inbound) error {
	if sess.State() != Active {
		return errors.ErrConnectionClosed
	}
	var err error
	switch in.Event {
	case event.JoinListing:
		err = g.joinListing(sess, in.Data)
	case event.LeaveListing:
		err = g.leaveListing(sess, in.Data)
	case event.SendMessage:
		err = g.sendMessage(ctx, sess, in.Data)
	case event.Typing:
		err = g.typing(ctx, sess, in.Data, true)
	case event.StopTyping:
		err = g.typing(ctx, sess, in.Data, false)
	default:
		err = fmt.Errorf("%w: %q", errors.ErrUnknownEvent, in.Event)
	}
	if err != nil {
		g.reportError(ctx, sess, err)
	}
	return err
}

func (g *Gateway) joinListing(sess *Session, data json.RawMessage) error {
	cmd, err := decodeListing(data)
	if err != nil {
		return err
	}
	g.registry.Join(sess.ID, domain.Listing(cmd.ListingID))
	sess.log.Debug("Listing joined", "listing_id", cmd.ListingID)
	return nil
}

func (g *Gateway) leaveListing(sess *Session, data json.RawMessage) error {
	cmd, err := decodeListing(data)
	if err != nil {
		return err
	}
	g.registry.Leave(sess.ID, domain.Listing(cmd.ListingID))
	sess.log.Debug("Listing left", "listing_id", cmd.ListingID)
	return nil
}

// sendMessage persists first and fans out only the stored message, so no
// client ever sees a message that history would miss.
func (g *Gateway) sendMessage(ctx context.Context, sess *Session, data json.RawMessage) error {
	var cmd domain.SendMessageCommand
	if err := decode(data, &cmd); err != nil {
		return err
	}
	newMessage, err := domain.ValidateSendMessage(cmd, sess.UserID, g.cfg.MaxMessageLength)
	if err != nil {
		return err
	}
	if g.cfg.Policy != nil {
		if words := g.cfg.Policy.Blocked(newMessage.Body); len(words) > 0 {
			sess.log.Info("Message blocked", "listing_id", newMessage.ListingID, "words", words)
			return errors.ErrBlockedWords
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	msg, err := g.messages.Insert(storeCtx, newMessage)
	cancel()
	if err != nil {
		g.monitoring.IncrPersistenceFailure()
		sess.log.Error("Message not persisted", "listing_id", newMessage.ListingID, "error", err)
		return fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	g.monitoring.IncrPersisted()

	payload := g.payloads.Message(msg)
	g.emitToRoom(ctx, domain.User(msg.Receiver), event.Message(event.NewMessage, payload), "")
	g.emit(ctx, sess, event.Message(event.MessageSent, payload))
	g.emitToRoom(ctx, domain.Listing(msg.ListingID), event.Message(event.MessageUpdated, payload), "")
	return nil
}

func (g *Gateway) typing(ctx context.Context, sess *Session, data json.RawMessage, typing bool) error {
	var cmd domain.TypingCommand
	if err := decode(data, &cmd); err != nil {
		return err
	}
	cmd, err := domain.ValidateTyping(cmd, sess.UserID)
	if err != nil {
		return err
	}
	g.emitToRoom(ctx, domain.User(cmd.ReceiverID), event.TypingEvent(cmd.ListingID, sess.UserID, typing), sess.ID)
	return nil
}

// emitToRoom snapshots the room members, resolves their sinks under a read
// lock, then delivers outside of any lock.
func (g *Gateway) emitToRoom(ctx context.Context, room domain.RoomKey, e event.Event, exclude domain.ConnectionID) {
	members := g.registry.MembersOf(room)
	if len(members) == 0 {
		return
	}
	g.mu.RLock()
	targets := make([]*Session, 0, len(members))
	for _, id := range members {
		if id == exclude {
			continue
		}
		if sess, ok := g.sessions[id]; ok {
			targets = append(targets, sess)
		}
	}
	g.mu.RUnlock()

	for _, sess := range targets {
		g.emit(ctx, sess, e)
	}
}

func (g *Gateway) emit(ctx context.Context, sess *Session, e event.Event) {
	if sess.State() != Active {
		return
	}
	if err := sess.sink.Consume(ctx, e); err != nil {
		sess.log.Debug("Event not delivered", "event", e.Event, "error", err)
		return
	}
	g.monitoring.IncrDelivered(1)
}

func (g *Gateway) reportError(ctx context.Context, sess *Session, err error) {
	if errors.Is(err, errors.ErrValidation) {
		sess.log.Debug("Event rejected", "error", err)
	} else {
		sess.log.Warn("Event failed", "error", err)
	}
	g.monitoring.IncrErrorSent()
	g.emit(ctx, sess, event.ErrorEvent(errors.PublicMessage(err)))
}

// Disconnect releases every room of the connection and closes its sink.
// Only the first call has an effect.
func (g *Gateway) Disconnect(sess *Session) {
	if sess == nil {
		return
	}
	sess.once.Do(func() {
		sess.setState(Disconnected)
		g.registry.DropConnection(sess.ID)
		g.mu.Lock()
		delete(g.sessions, sess.ID)
		g.mu.Unlock()
		if sess.sink != nil {
			_ = sess.sink.Close()
		}
		g.monitoring.ConnectionClosed()
		sess.log.Info("Connection closed")
	})
}

// Shutdown refuses new connections and disconnects the live ones.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		sessions = append(sessions, sess)
	}
	g.mu.Unlock()

	for _, sess := range sessions {
		g.Disconnect(sess)
	}
	g.log.Info("Gateway stopped", "closed_sessions", len(sessions))
}

func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: missing data", errors.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}
	return nil
}

// decodeListing accepts {"listingId": "..."} or a bare JSON string.
func decodeListing(data json.RawMessage) (domain.ListingCommand, error) {
	var cmd domain.ListingCommand
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &cmd.ListingID); err != nil {
			return domain.ListingCommand{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
		}
	} else if err := decode(data, &cmd); err != nil {
		return domain.ListingCommand{}, err
	}
	return domain.ValidateListing(cmd)
}
