// Package stream implements the StreamMultiplexer: two independent
// WebSocket channels (market and user) that decode into a single merged
// stream of MarketEvents.
//
// Each channel runs its own Disconnected -> Connecting -> Subscribing ->
// Live state machine and reconnects on its own schedule, preserving its
// subscription set across reconnects and resending the full set as part of
// the initial subscription on every new connection. Liveness is purely
// app-level: a literal "PING" text frame sent on a fixed interval, never a
// transport-level WebSocket ping/pong — the venue does not speak the
// latter. Decoded events are pushed to a single shared channel with a
// blocking send; a slow consumer backs up the multiplexer rather than
// silently losing events.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polytrader/internal/decode"
	"polytrader/pkg/types"
)

// State is a channel's connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Live
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

const (
	writeTimeout     = 10 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	eventBufferSize  = 256
)

// Authenticator supplies the L2 credential triple the user channel sends in
// its initial subscription message. Implemented by internal/venue.Auth;
// declared here as a narrow interface so this package does not depend on
// the venue package.
type Authenticator interface {
	WSAuthPayload() *types.WSAuth
}

// Stats is a point-in-time snapshot of one channel's health.
type Stats struct {
	State           State
	ReconnectCount  int64
	SubscribedCount int
}

// channel owns one WebSocket connection (market or user) and its
// subscription set.
type channel struct {
	name         string // "market" or "user"
	url          string
	auth         Authenticator // nil for the market channel
	pingInterval time.Duration
	reconnectGap time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn

	state          atomic.Int32
	reconnectCount atomic.Int64

	subMu      sync.RWMutex
	subscribed map[string]struct{}

	events chan<- types.MarketEvent
	logger *slog.Logger
}

func newChannel(name, url string, auth Authenticator, pingInterval, reconnectGap time.Duration, events chan<- types.MarketEvent, logger *slog.Logger) *channel {
	return &channel{
		name:         name,
		url:          url,
		auth:         auth,
		pingInterval: pingInterval,
		reconnectGap: reconnectGap,
		subscribed:   make(map[string]struct{}),
		events:       events,
		logger:       logger.With("channel", name),
	}
}

func (c *channel) setState(s State) { c.state.Store(int32(s)) }
func (c *channel) State() State     { return State(c.state.Load()) }

func (c *channel) stats() Stats {
	c.subMu.RLock()
	n := len(c.subscribed)
	c.subMu.RUnlock()
	return Stats{State: c.State(), ReconnectCount: c.reconnectCount.Load(), SubscribedCount: n}
}

// subscribe records ids for replay on every (re)connect and, if currently
// live, pushes an incremental subscribe message immediately. It never
// returns an error to the caller: the subscription is durable state that
// gets applied at the next connection regardless of present connectivity.
func (c *channel) subscribe(ids []string) {
	c.subMu.Lock()
	for _, id := range ids {
		c.subscribed[id] = struct{}{}
	}
	c.subMu.Unlock()

	if c.State() != Live {
		return
	}
	msg := types.WSUpdateMsg{Operation: "subscribe"}
	if c.name == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	if err := c.writeJSON(msg); err != nil {
		c.logger.Warn("incremental subscribe failed, will resend on reconnect", "error", err)
	}
}

func (c *channel) unsubscribe(ids []string) {
	c.subMu.Lock()
	for _, id := range ids {
		delete(c.subscribed, id)
	}
	c.subMu.Unlock()

	if c.State() != Live {
		return
	}
	msg := types.WSUpdateMsg{Operation: "unsubscribe"}
	if c.name == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	if err := c.writeJSON(msg); err != nil {
		c.logger.Warn("incremental unsubscribe failed", "error", err)
	}
}

// run drives the channel's reconnect loop until ctx is cancelled. After an
// attempt that never reached Live (a dial or subscribe failure) the wait
// doubles, starting from the configured reconnect gap (1s if unset) and
// capped at maxReconnectWait; after a connection that reached Live at
// least briefly, the wait is the configured fixed reconnect gap.
func (c *channel) run(ctx context.Context) {
	backoff := c.reconnectGap
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		reachedLive, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		c.setState(Disconnected)
		c.logger.Warn("disconnected, reconnecting", "error", err, "wait", backoff)

		if reachedLive {
			backoff = c.reconnectGap
		} else {
			backoff *= 2
			if backoff > maxReconnectWait {
				backoff = maxReconnectWait
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		c.reconnectCount.Add(1)
	}
}

func (c *channel) connectAndRead(ctx context.Context) (reachedLive bool, err error) {
	c.setState(Connecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	c.setState(Subscribing)
	if err := c.sendInitialSubscription(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	c.setState(Live)
	reachedLive = true
	c.logger.Info("channel live")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return reachedLive, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return reachedLive, fmt.Errorf("read: %w", err)
		}
		c.dispatch(ctx, msg)
	}
}

func (c *channel) sendInitialSubscription() error {
	c.subMu.RLock()
	ids := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	c.subMu.RUnlock()

	if c.name == "market" {
		msg := types.WSSubscribeMsg{Type: "MARKET", AssetIDs: ids, InitialDump: true}
		return c.writeJSON(msg)
	}
	msg := types.WSSubscribeMsg{Type: "USER", Markets: ids}
	if c.auth != nil {
		msg.Auth = c.auth.WSAuthPayload()
	}
	return c.writeJSON(msg)
}

// dispatch decodes one transport frame and pushes every resulting event to
// the shared output channel with a blocking send: a slow strategy backs up
// the multiplexer's read loop rather than silently dropping events.
func (c *channel) dispatch(ctx context.Context, raw []byte) {
	events, err := decode.Decode(raw)
	if err != nil {
		c.logger.Debug("dropping unparseable frame", "error", err)
		return
	}
	for _, ev := range events {
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *channel) pingLoop(ctx context.Context) {
	interval := c.pingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *channel) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("%s channel not connected", c.name)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *channel) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("%s channel not connected", c.name)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// Multiplexer owns the market channel and, when credentials are supplied,
// the user channel, merging both into a single MarketEvent stream.
type Multiplexer struct {
	market *channel
	user   *channel
	events chan types.MarketEvent
}

// New builds a Multiplexer. auth may be nil, in which case only the market
// channel runs — useful for strategies that only read prices and never
// trade live.
func New(marketURL, userURL string, auth Authenticator, pingInterval, reconnectGap time.Duration, logger *slog.Logger) *Multiplexer {
	events := make(chan types.MarketEvent, eventBufferSize)
	m := &Multiplexer{
		market: newChannel("market", marketURL, nil, pingInterval, reconnectGap, events, logger),
		events: events,
	}
	if auth != nil && userURL != "" {
		m.user = newChannel("user", userURL, auth, pingInterval, reconnectGap, events, logger)
	}
	return m
}

// Events returns the merged, decoded event stream from both channels.
func (m *Multiplexer) Events() <-chan types.MarketEvent { return m.events }

// Run blocks until ctx is cancelled, driving both channels' reconnect loops
// concurrently.
func (m *Multiplexer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.market.run(ctx)
	}()
	if m.user != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.user.run(ctx)
		}()
	}
	wg.Wait()
}

// SubscribeMarket adds token ids to the market channel's subscription set.
func (m *Multiplexer) SubscribeMarket(tokenIDs []string) { m.market.subscribe(tokenIDs) }

// UnsubscribeMarket removes token ids from the market channel.
func (m *Multiplexer) UnsubscribeMarket(tokenIDs []string) { m.market.unsubscribe(tokenIDs) }

// SubscribeUser adds condition ids to the user channel's subscription set.
// A no-op when the multiplexer has no credentials and thus no user channel.
func (m *Multiplexer) SubscribeUser(conditionIDs []string) {
	if m.user != nil {
		m.user.subscribe(conditionIDs)
	}
}

// UnsubscribeUser removes condition ids from the user channel.
func (m *Multiplexer) UnsubscribeUser(conditionIDs []string) {
	if m.user != nil {
		m.user.unsubscribe(conditionIDs)
	}
}

// MarketState reports the market channel's connection state.
func (m *Multiplexer) MarketState() State { return m.market.State() }

// UserState reports the user channel's connection state, or Disconnected
// when there is no user channel.
func (m *Multiplexer) UserState() State {
	if m.user == nil {
		return Disconnected
	}
	return m.user.State()
}

// Stats returns a point-in-time snapshot for both channels, keyed by name.
func (m *Multiplexer) Stats() map[string]Stats {
	out := map[string]Stats{"market": m.market.stats()}
	if m.user != nil {
		out["user"] = m.user.stats()
	}
	return out
}
