package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is the commitment level requested for every subscription.
	Commitment string
	// BufferSize is the capacity of each subscription channel.
	BufferSize int
	// Logger receives connection lifecycle and RPC error messages.
	Logger logrus.FieldLogger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        "confirmed",
		BufferSize:        10000,
	}
}

// subscription describes one active subscription so it can be replayed after reconnect.
type subscription struct {
	method string
	params []interface{}
	// pubkey is set for accountSubscribe, whose notifications do not carry the address.
	pubkey PublicKey
	ch     chan AccountNotification
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   logrus.FieldLogger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps server subscription ID to subscription
	subs   map[int64]*subscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWSConfig().BufferSize
	}
	defaults := DefaultWSConfig()
	for _, d := range []struct{ v, fallback *time.Duration }{
		{&cfg.ReconnectDelay, &defaults.ReconnectDelay},
		{&cfg.MaxReconnectDelay, &defaults.MaxReconnectDelay},
		{&cfg.PingInterval, &defaults.PingInterval},
		{&cfg.ReadTimeout, &defaults.ReadTimeout},
		{&cfg.WriteTimeout, &defaults.WriteTimeout},
	} {
		if *d.v <= 0 {
			*d.v = *d.fallback
		}
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultWSConfig().SubscribeTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.WithField("component", "solana_ws"),
		subs:        make(map[int64]*subscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// AccountSubscribe subscribes to changes of a single account.
func (c *WSClientImpl) AccountSubscribe(ctx context.Context, pubkey PublicKey) (<-chan AccountNotification, error) {
	sub := &subscription{
		method: "accountSubscribe",
		params: []interface{}{
			pubkey.String(),
			map[string]string{"encoding": "base64", "commitment": c.config.Commitment},
		},
		pubkey: pubkey,
	}
	return c.subscribe(ctx, sub)
}

// ProgramSubscribe subscribes to changes of accounts owned by program.
func (c *WSClientImpl) ProgramSubscribe(ctx context.Context, program PublicKey, filters []AccountFilter) (<-chan AccountNotification, error) {
	opts := map[string]interface{}{
		"encoding":   "base64",
		"commitment": c.config.Commitment,
	}
	if len(filters) > 0 {
		opts["filters"] = rpcFilters(filters)
	}

	sub := &subscription{
		method: "programSubscribe",
		params: []interface{}{program.String(), opts},
	}
	return c.subscribe(ctx, sub)
}

// subscribe sends the request, waits for the server ID and registers the channel.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) (<-chan AccountNotification, error) {
	subID, err := c.request(ctx, sub)
	if err != nil {
		return nil, err
	}

	// Create notification channel with large buffer for backpressure
	// Blocking send ensures no event loss; buffer absorbs burst
	sub.ch = make(chan AccountNotification, c.config.BufferSize)

	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()

	return sub.ch, nil
}

// request writes a subscribe request and returns the confirmed subscription ID.
func (c *WSClientImpl) request(ctx context.Context, sub *subscription) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  sub.method,
		Params:  sub.params,
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	forget := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return 0, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return 0, fmt.Errorf("write %s: %w", sub.method, err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("client closed")
		}
		return subID, nil
	case <-timer.C:
		forget()
		return 0, fmt.Errorf("%s timeout after %v", sub.method, c.config.SubscribeTimeout)
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		forget()
		return 0, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	// Close all subscription channels once no reader can send on them
	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.WithError(err).Warn("websocket read failed, reconnecting")
				c.dropConn(conn)
				go c.reconnect()
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		c.handleMessage(message)
	}
}

func (c *WSClientImpl) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// reconnect dials with exponential backoff until it succeeds or the client
// is closed, then resubscribes.
func (c *WSClientImpl) reconnect() {
	defer c.reconnecting.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := retry.Do(
		func() error {
			dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
			defer cancelDial()
			return c.connect(dialCtx)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(c.config.ReconnectDelay),
		retry.MaxDelay(c.config.MaxReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WithError(err).WithField("attempt", n+1).Warn("websocket reconnect failed")
		}),
	)
	if err != nil {
		return
	}

	c.logger.Info("websocket reconnected")
	c.resubscribeAll()
}

// resubscribeAll replays every active subscription after reconnect.
// Channels are preserved so consumers never observe the reconnect.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	active := make(map[int64]*subscription, len(c.subs))
	for id, sub := range c.subs {
		active[id] = sub
	}
	c.subsMu.RUnlock()

	for oldSubID, sub := range active {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := c.request(ctx, sub)
		cancel()

		if err != nil {
			c.logger.WithError(err).Warnf("resubscribe %s failed", sub.method)
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldSubID)
		c.subs[newSubID] = sub
		c.subsMu.Unlock()
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID > 0 && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Params != nil {
		switch notif.Method {
		case "accountNotification":
			c.handleAccountNotification(&notif)
			return
		case "programNotification":
			c.handleProgramNotification(&notif)
			return
		}
	}

	var errResp struct {
		ID    uint64 `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// Subscription will time out; surface the reason.
		c.logger.WithFields(logrus.Fields{
			"request_id": errResp.ID,
			"code":       errResp.Error.Code,
		}).Warnf("rpc error response: %s", errResp.Error.Message)
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleAccountNotification dispatches an accountSubscribe notification.
func (c *WSClientImpl) handleAccountNotification(notif *wsNotification) {
	var value rpcAccountInfo
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil {
		c.logger.WithError(err).Warn("malformed account notification")
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	info, err := value.decode()
	if err != nil {
		c.logger.WithError(err).WithField("account", sub.pubkey.String()).Warn("undecodable account notification")
		return
	}

	c.deliver(sub, AccountNotification{
		Pubkey:  sub.pubkey,
		Slot:    notif.Params.Result.slot(),
		Account: *info,
	})
}

// handleProgramNotification dispatches a programSubscribe notification.
func (c *WSClientImpl) handleProgramNotification(notif *wsNotification) {
	var value rpcKeyedAccount
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil {
		c.logger.WithError(err).Warn("malformed program notification")
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	pubkey, err := ParsePublicKey(value.Pubkey)
	if err != nil {
		c.logger.WithError(err).Warn("program notification with invalid pubkey")
		return
	}
	info, err := value.Account.decode()
	if err != nil {
		c.logger.WithError(err).WithField("account", value.Pubkey).Warn("undecodable program notification")
		return
	}

	c.deliver(sub, AccountNotification{
		Pubkey:  pubkey,
		Slot:    notif.Params.Result.slot(),
		Account: *info,
	})
}

// deliver blocks until the subscriber accepts the notification - never drop events.
func (c *WSClientImpl) deliver(sub *subscription, n AccountNotification) {
	select {
	case sub.ch <- n:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection is handled by the reader.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext      `json:"context"`
	Value   json.RawMessage `json:"value"`
}

func (r wsNotificationResult) slot() uint64 {
	if r.Context == nil {
		return 0
	}
	return r.Context.Slot
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}
