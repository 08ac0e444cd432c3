package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
)

// State is the session state seen by the control loop.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribed
)

func (s State) String() string {
	if s == StateSubscribed {
		return "subscribed"
	}
	return "disconnected"
}

// defaultInboxSize applies when the config leaves inbox_size unset.
const defaultInboxSize = 16

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the goroutine calling Loop, never on paho's goroutines.
// A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Message is a received message waiting in the inbox.
type Message struct {
	Topic   string
	Payload []byte
}

// Stats are cumulative session counters.
type Stats struct {
	ConnectAttempts uint64
	Connects        uint64
	ConnectionLosts uint64
	Received        uint64
	InboxDropped    uint64
	Published       uint64
	PublishFailed   uint64
}

// brokerClient is the part of pahomqtt.Client the session uses.
type brokerClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

func newPahoClient(opts *pahomqtt.ClientOptions) brokerClient {
	return pahomqtt.NewClient(opts)
}

// Options tunes a Session. Zero values pick the defaults.
type Options struct {
	// GatewayID names the gateway in the status topic and payloads.
	GatewayID string
	Clock     Clock
	Backoff   Backoff
	Logger    Logger
}

// Session is the gateway's connection to the broker.
//
// It has two states. Reconnect moves it to Subscribed; connection loss moves
// it back to Disconnected. Received command messages are queued in a bounded
// inbox and dispatched by Loop on the caller's goroutine.
//
// Thread Safety:
//   - Publish, IsConnected, State and Stats are safe for concurrent use.
//   - Reconnect and Loop are meant for the single control goroutine.
type Session struct {
	cfg         config.MQTTConfig
	gatewayID   string
	statusTopic string
	clock       Clock
	backoff     Backoff
	logger      Logger
	newClient   func(*pahomqtt.ClientOptions) brokerClient

	mu       sync.Mutex
	client   brokerClient
	clientID string
	state    State
	// gen identifies the current client so callbacks from a replaced client
	// are ignored.
	gen uint64

	handlerMu sync.RWMutex
	handler   MessageHandler

	inbox chan Message

	connectAttempts atomic.Uint64
	connects        atomic.Uint64
	connectionLosts atomic.Uint64
	received        atomic.Uint64
	inboxDropped    atomic.Uint64
	published       atomic.Uint64
	publishFailed   atomic.Uint64
}

// NewSession creates a disconnected session. Call Reconnect to connect.
func NewSession(cfg config.MQTTConfig, opts Options) (*Session, error) {
	if err := validateFilter(cfg.Topics.Command); err != nil {
		return nil, fmt.Errorf("command topic: %w", err)
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQoS, cfg.QoS)
	}

	s := &Session{
		cfg:         cfg,
		gatewayID:   opts.GatewayID,
		statusTopic: StatusTopic(cfg.Topics.StatusPrefix, opts.GatewayID),
		clock:       opts.Clock,
		backoff:     opts.Backoff,
		logger:      opts.Logger,
		newClient:   newPahoClient,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.backoff == nil {
		s.backoff = FixedBackoff(time.Duration(cfg.Reconnect.Delay) * time.Second)
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	s.inbox = make(chan Message, size)
	return s, nil
}

// SetCommandHandler sets the handler Loop dispatches command messages to.
func (s *Session) SetCommandHandler(h MessageHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// StatusTopic returns the retained status topic of this gateway.
func (s *Session) StatusTopic() string {
	return s.statusTopic
}

// ClientID returns the client id of the current or last connection.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is subscribed and the client still
// holds a live connection. A client found disconnected moves the session to
// Disconnected.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		return false
	}
	if s.client == nil || !s.client.IsConnected() {
		s.markLostLocked()
		return false
	}
	return true
}

// Reconnect blocks until the session is Subscribed or ctx is done. Each
// failed attempt is followed by the backoff delay.
func (s *Session) Reconnect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.connectOnce(ctx)
		if err == nil {
			return nil
		}
		s.logWarn("mqtt connect attempt failed",
			"attempt", attempt,
			"broker", fmt.Sprintf("%s:%d", s.cfg.Broker.Host, s.cfg.Broker.Port),
			"error", err,
		)

		if err := s.clock.Sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
}

// connectOnce replaces any previous client, connects and subscribes.
func (s *Session) connectOnce(ctx context.Context) error {
	s.connectAttempts.Add(1)

	s.mu.Lock()
	old := s.client
	s.client = nil
	s.state = StateDisconnected
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	if old != nil {
		old.Disconnect(0)
	}

	clientID := newClientID(s.cfg.Broker.ClientID)
	opts := buildClientOptions(s.cfg, clientID)
	configureLWT(opts, s.statusTopic, s.gatewayID, clientID, s.clock.Now())
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(gen, err)
	})

	client := s.newClient(opts)
	timeout := connectTimeout(s.cfg)

	if err := waitToken(ctx, client.Connect(), timeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	qos := byte(s.cfg.QoS) //nolint:gosec // validated in NewSession
	token := client.Subscribe(s.cfg.Topics.Command, qos, s.enqueue)
	if err := waitToken(ctx, token, timeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, s.cfg.Topics.Command, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Close ran while we were connecting.
		s.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("%w: session closed", ErrConnectionFailed)
	}
	s.client = client
	s.clientID = clientID
	s.state = StateSubscribed
	s.mu.Unlock()
	s.connects.Add(1)

	if err := s.PublishStatus(StatusMessage{Status: StatusOnline}); err != nil {
		s.logWarn("failed to publish online status", "error", err)
	}
	s.logInfo("mqtt session subscribed",
		"client_id", clientID,
		"command_topic", s.cfg.Topics.Command,
	)
	return nil
}

// handleConnectionLost is paho's connection lost callback.
func (s *Session) handleConnectionLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateSubscribed {
		s.mu.Unlock()
		return
	}
	s.markLostLocked()
	s.mu.Unlock()
	s.logWarn("mqtt connection lost", "error", err)
}

// markLostLocked must be called with s.mu held.
func (s *Session) markLostLocked() {
	if s.state == StateSubscribed {
		s.connectionLosts.Add(1)
	}
	s.state = StateDisconnected
}

// enqueue is the paho message handler. It never blocks: a full inbox drops
// its oldest message so the newest command is always kept.
func (s *Session) enqueue(_ pahomqtt.Client, msg pahomqtt.Message) {
	m := Message{
		Topic:   msg.Topic(),
		Payload: append([]byte(nil), msg.Payload()...),
	}
	s.received.Add(1)
	for {
		select {
		case s.inbox <- m:
			return
		default:
		}
		select {
		case old := <-s.inbox:
			s.inboxDropped.Add(1)
			s.logWarn("mqtt inbox full, oldest message dropped", "topic", old.Topic)
		default:
			// Drained by Loop in between; retry the send.
		}
	}
}

// Loop dispatches the messages queued so far to the command handler and
// returns how many were handled.
func (s *Session) Loop() int {
	n := 0
	// Bounded by capacity so a busy producer cannot pin the control loop.
	for range cap(s.inbox) {
		select {
		case msg := <-s.inbox:
			s.dispatch(msg)
			n++
		default:
			return n
		}
	}
	return n
}

// dispatch runs the handler with panic recovery.
func (s *Session) dispatch(msg Message) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logError("mqtt handler panic recovered",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	if err := h(msg.Topic, msg.Payload); err != nil {
		s.logWarn("mqtt handler error",
			"topic", msg.Topic,
			"error", err,
		)
	}
}

// Close publishes a graceful offline status and disconnects.
func (s *Session) Close() error {
	if s.IsConnected() {
		if err := s.PublishStatus(StatusMessage{Status: StatusOffline, Reason: "graceful_shutdown"}); err != nil {
			s.logWarn("failed to publish offline status", "error", err)
		}
	}

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = StateDisconnected
	s.gen++
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// HealthCheck verifies the session is subscribed.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.IsConnected() {
		return ErrSessionLost
	}
	return nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		ConnectAttempts: s.connectAttempts.Load(),
		Connects:        s.connects.Load(),
		ConnectionLosts: s.connectionLosts.Load(),
		Received:        s.received.Load(),
		InboxDropped:    s.inboxDropped.Load(),
		Published:       s.published.Load(),
		PublishFailed:   s.publishFailed.Load(),
	}
}

// waitToken waits for token, ctx or timeout, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func (s *Session) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
