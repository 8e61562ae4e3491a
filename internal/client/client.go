package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/waconnect/waconnect-go/internal/core"
	"go.uber.org/zap"
)

// Session status constants
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusConnecting   SessionStatus = "CONNECTING"
	StatusQRReady       SessionStatus = "QR_READY"
	StatusReady         SessionStatus = "READY"
	StatusDisconnected  SessionStatus = "DISCONNECTED"
)

// Common errors
var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("not connected")
)

// WAClient represents a WhatsApp client session, wrapping a core.Connection
// and translating its event-bus traffic into the status/message surface the
// API layer exposes.
type WAClient struct {
	ID               string
	status           SessionStatus
	phoneNumber      string
	qrCode           string
	qrCodeBase64     string
	connectedAt      *time.Time
	lastActivityAt   time.Time
	messagesSent     int
	messagesReceived int
	lastDisconnect   error

	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	dataDir string

	conn      *core.Connection
	qrGen     *core.QRGenerator
	cancelCtx context.CancelFunc

	onQR      func(string)
	onReady   func()
	onMessage func(Message)
}

// Message represents a WhatsApp message
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"isFromMe"`
}

// NewWAClient creates a new WhatsApp client
func NewWAClient(sessionID string, logger *zap.SugaredLogger, dataDir string) *WAClient {
	return &WAClient{
		ID:             sessionID,
		status:         StatusInitializing,
		lastActivityAt: time.Now(),
		logger:         logger,
		dataDir:        dataDir,
		qrGen:          core.NewQRGenerator(),
	}
}

// Connect establishes connection to WhatsApp
func (c *WAClient) Connect() error {
	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()

	c.logger.Infof("Connecting session %s...", c.ID)

	store := core.NewFileCredentialStore(c.dataDir, c.ID)

	conn, err := core.NewConnection(core.ConnectionConfig{
		SessionID:           c.ID,
		SessionDir:          c.dataDir,
		ConnectTimeoutMs:    core.DefaultConnectTimeoutMs,
		KeepAliveIntervalMs: core.DefaultKeepAliveIntervalMs,
		QueryTimeoutMs:      core.DefaultQueryTimeoutMs,
		Logger:              c.logger,
	}, store)
	if err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		return err
	}
	c.conn = conn

	conn.Events().On(core.EventConnectionUpdate, c.handleConnectionUpdate)
	conn.Events().On(core.EventCredsUpdate, c.handleCredsUpdate)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelCtx = cancel

	go func() {
		if err := conn.Connect(ctx); err != nil {
			c.logger.Errorf("Connection failed for %s: %v", c.ID, err)
		}
	}()

	return nil
}

func (c *WAClient) handleConnectionUpdate(payload interface{}) {
	update, ok := payload.(*core.ConnectionUpdate)
	if !ok {
		return
	}

	c.mu.Lock()
	if update.QR != nil {
		c.status = StatusQRReady
		c.qrCode = *update.QR
		if b64, err := c.qrGen.GenerateBase64(*update.QR); err == nil {
			c.qrCodeBase64 = b64
		}
		c.lastActivityAt = time.Now()
	}
	if update.Connection == "open" {
		now := time.Now()
		c.status = StatusReady
		c.connectedAt = &now
		c.lastActivityAt = now
	}
	if update.Connection == "close" {
		c.status = StatusDisconnected
		if update.LastDisconnect != nil {
			c.lastDisconnect = update.LastDisconnect.Error
		}
	}
	c.mu.Unlock()

	if update.QR != nil && c.onQR != nil {
		c.onQR(*update.QR)
	}
	if update.Connection == "open" && c.onReady != nil {
		c.onReady()
	}
}

func (c *WAClient) handleCredsUpdate(payload interface{}) {
	creds, ok := payload.(*core.AuthenticationCreds)
	if !ok || creds == nil || creds.Me == nil {
		return
	}
	c.mu.Lock()
	c.phoneNumber = creds.Me.JID
	c.mu.Unlock()
}

// SetOnQR registers a callback invoked with the raw QR string whenever a
// new one is emitted.
func (c *WAClient) SetOnQR(fn func(string)) { c.onQR = fn }

// SetOnReady registers a callback invoked once the session reaches READY.
func (c *WAClient) SetOnReady(fn func()) { c.onReady = fn }

// Disconnect closes the WhatsApp connection
func (c *WAClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelCtx
	c.status = StatusDisconnected
	c.qrCode = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.logger.Infof("Session %s disconnected", c.ID)
}

// GetStatus returns current session status
func (c *WAClient) GetStatus() SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// GetQRCode returns the current QR code
func (c *WAClient) GetQRCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCode
}

// GetPhoneNumber returns the connected phone number
func (c *WAClient) GetPhoneNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phoneNumber
}

// GetSession returns session info
func (c *WAClient) GetSession() SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return SessionInfo{
		ID:               c.ID,
		Status:           c.status,
		PhoneNumber:      c.phoneNumber,
		ConnectedAt:      c.connectedAt,
		LastActivityAt:   c.lastActivityAt,
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
	}
}

// SendText sends a text message via the underlying dispatcher.
func (c *WAClient) SendText(to, text string) (*MessageResult, error) {
	c.mu.Lock()
	if c.status != StatusReady {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	node := BuildTextMessageNode(to, text)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := conn.Dispatcher().Query(ctx, node, nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.messagesSent++
	c.lastActivityAt = time.Now()
	c.mu.Unlock()

	return &MessageResult{
		MessageID: node.Attrs["id"],
		Timestamp: time.Now(),
	}, nil
}

// SessionInfo holds session information
type SessionInfo struct {
	ID               string        `json:"id"`
	Status           SessionStatus `json:"status"`
	PhoneNumber      string        `json:"phoneNumber,omitempty"`
	ConnectedAt      *time.Time    `json:"connectedAt,omitempty"`
	LastActivityAt   time.Time     `json:"lastActivityAt"`
	MessagesSent     int           `json:"messagesSent"`
	MessagesReceived int           `json:"messagesReceived"`
}

// MessageResult holds the result of sending a message
type MessageResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}
