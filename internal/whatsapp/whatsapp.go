// Package whatsapp wraps the Whatsmeow client for the CalorieCoach WhatsApp channel.
//
// It handles device-store setup and login, sends text replies and forwards inbound
// text messages to a registered handler.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite device store
	DefaultSQLitePath = "/var/lib/caloriecoach/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender is an interface for sending WhatsApp messages (for production and testing)
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// InboundMessage is a text message received from a user.
type InboundMessage struct {
	From string // phone number digits, without the JID suffix
	Body string
	Time time.Time
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device store connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
	LogLevel    string // whatsmeow log level (DEBUG, INFO, WARN, ERROR)
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device store connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to the specified path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the pairing code text instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow logger level.
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client

	mu        sync.RWMutex
	onMessage func(InboundMessage)
}

// resolveOpts applies options and fills defaults.
func resolveOpts(opts ...Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = SQLiteDSN(DefaultSQLitePath)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	return cfg
}

// NewClient opens the device store, logs in with a QR code when the device is not
// yet paired, and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := resolveOpts(opts...)
	slog.Debug("whatsapp.NewClient: options set", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDriver := DetectDSNType(cfg.DBDSN)
	if dbDriver == DriverSQLite && !sqliteForeignKeysEnabled(cfg.DBDSN) {
		slog.Warn("whatsapp.NewClient: SQLite device store does not enable foreign keys; whatsmeow requires them",
			"dsn_example", SQLiteDSN(cfg.DBDSN))
	}

	slog.Debug("whatsapp.NewClient: initializing device store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to initialize device store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to get device", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{waClient: whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))}
	c.waClient.AddEventHandler(c.handleEvent)

	if c.waClient.Store.ID == nil {
		if err := c.login(ctx, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("whatsapp.NewClient: already paired, connecting")
		if err := c.waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: connected")
	return c, nil
}

// login runs the QR pairing flow until the QR channel closes.
func (c *Client) login(ctx context.Context, cfg Opts) error {
	slog.Info("whatsapp.Client.login: pairing required; starting QR code flow")
	qrChan, err := c.waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.waClient.Connect(); err != nil {
		slog.Error("whatsapp.Client.login: failed to connect", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, ferr := os.Create(cfg.QRPath)
		if ferr != nil {
			slog.Error("whatsapp.Client.login: failed to create QR file", "error", ferr)
			return fmt.Errorf("failed to create QR file: %w", ferr)
		}
		defer f.Close()
		writer = f
	}

	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp.Client.login: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// OnMessage registers the handler for inbound text messages. A later call replaces it.
func (c *Client) OnMessage(fn func(InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *Client) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}
	body := messageText(msg.Message)
	if body == "" {
		slog.Debug("whatsapp.Client.handleEvent: ignoring non-text message", "from", msg.Info.Sender.User)
		return
	}

	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn == nil {
		slog.Debug("whatsapp.Client.handleEvent: no handler registered", "from", msg.Info.Sender.User)
		return
	}
	fn(InboundMessage{From: msg.Info.Sender.User, Body: body, Time: msg.Info.Timestamp})
}

// messageText extracts plain or extended text; other message kinds yield "".
func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if m.Conversation != nil {
		return strings.TrimSpace(*m.Conversation)
	}
	if m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != nil {
		return strings.TrimSpace(*m.ExtendedTextMessage.Text)
	}
	return ""
}

// SendMessage sends a WhatsApp text message to the specified phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("whatsapp.Client.SendMessage: sending", "to", to, "body_length", len(body))
	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("whatsapp.Client.SendMessage: failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient records sent messages instead of talking to WhatsApp (for tests)
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error // returned from SendMessage when set
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
