package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agrisync/internal/convo"
	"agrisync/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

const channelName = "whatsapp"

// Router handles one farmer message.
type Router interface {
	Handle(ctx context.Context, in convo.Inbound) (string, error)
}

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	// Timeout bounds the routing of one message.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Client wraps the WhatsMeow client and feeds farmer messages to the router.
type Client struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	router  Router
}

type replyContextKey struct{}

// ReplyMetadata carries information for quoting a previous message.
type ReplyMetadata struct {
	Message *waProto.Message
	Info    types.MessageInfo
}

// WithReply attaches reply metadata to the context so outgoing messages quote the given event.
func WithReply(ctx context.Context, evt *events.Message) context.Context {
	if evt == nil || evt.Message == nil {
		return ctx
	}
	cloned, ok := proto.Clone(evt.Message).(*waProto.Message)
	if !ok {
		cloned = evt.Message
	}
	return context.WithValue(ctx, replyContextKey{}, &ReplyMetadata{Message: cloned, Info: evt.Info})
}

func replyFromContext(ctx context.Context) *ReplyMetadata {
	if ctx == nil {
		return nil
	}
	meta, _ := ctx.Value(replyContextKey{}).(*ReplyMetadata)
	return meta
}

// New creates a new WhatsApp client instance backed by an SQLite device store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("whatsmeow/client", cfg.LogLevel, true))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
		timeout: timeout,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetRouter registers the router that answers inbound messages.
func (c *Client) SetRouter(router Router) {
	c.router = router
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	in, ok := inboundFromEvent(evt)
	if !ok {
		c.logger.Debug("ignoring message", "from", evt.Info.Sender.String())
		return
	}
	if c.router == nil {
		return
	}
	go c.route(evt, in)
}

func (c *Client) route(evt *events.Message, in convo.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reply, err := c.router.Handle(ctx, in)
	if err != nil {
		c.logger.Error("failed routing message", "error", err, "from", in.From)
		c.metrics.IncError("wa_route")
		return
	}
	if err := c.SendText(WithReply(ctx, evt), evt.Info.Chat, reply); err != nil {
		c.logger.Error("failed sending reply", "error", err, "to", evt.Info.Chat.String())
		c.metrics.IncError("wa_send")
	}
}

// inboundFromEvent maps direct text and location messages; everything else is ignored.
func inboundFromEvent(evt *events.Message) (convo.Inbound, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return convo.Inbound{}, false
	}
	phone, ok := senderPhone(evt.Info.MessageSource)
	if !ok {
		return convo.Inbound{}, false
	}

	in := convo.Inbound{From: phone, Channel: channelName}
	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		in.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		in.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		lat, lon := loc.GetDegreesLatitude(), loc.GetDegreesLongitude()
		in.Latitude, in.Longitude = &lat, &lon
	default:
		return convo.Inbound{}, false
	}
	return in, true
}

// senderPhone returns the phone-number form of the sender. LID senders only
// resolve when WhatsApp supplied the phone-number JID as the alternate address.
func senderPhone(src types.MessageSource) (string, bool) {
	for _, jid := range []types.JID{src.Sender, src.SenderAlt} {
		user := strings.TrimSpace(jid.User)
		if jid.Server == types.DefaultUserServer && user != "" {
			return "+" + user, true
		}
	}
	return "", false
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// SendText sends a text message to the specified JID, quoting the message in ctx if any.
func (c *Client) SendText(ctx context.Context, to types.JID, text string) error {
	var message *waProto.Message
	if reply := replyFromContext(ctx); reply != nil && reply.Message != nil {
		message = &waProto.Message{
			ExtendedTextMessage: &waProto.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waProto.ContextInfo{
					StanzaID:      proto.String(string(reply.Info.ID)),
					Participant:   proto.String(reply.Info.Sender.ToNonAD().String()),
					RemoteJID:     proto.String(reply.Info.Chat.String()),
					QuotedMessage: reply.Message,
					QuotedType:    waProto.ContextInfo_EXPLICIT.Enum(),
				},
			},
		}
	} else {
		message = &waProto.Message{Conversation: proto.String(text)}
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(channelName).Inc()
	}
	return nil
}
