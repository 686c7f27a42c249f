package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"auction-client/internal/domain"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

// ChatEvent is one update from a chat thread stream.
type ChatEvent struct {
	Type     string               `json:"type"`
	Message  *domain.ChatMessage  `json:"message,omitempty"`
	Messages []domain.ChatMessage `json:"messages,omitempty"`
	Sender   string               `json:"sender,omitempty"`
	ReadAt   *time.Time           `json:"read_at,omitempty"`
}

var chatEventTypes = []string{
	domain.TypeChatMessage,
	domain.TypeChatHistory,
	domain.TypeTyping,
	domain.TypeReadReceipt,
}

// ChatChannel is the typed protocol for one buyer/seller chat thread.
type ChatChannel struct {
	threadID string
	path     string
	registry *ws.Registry
	sock     *ws.Socket
	session  UserSource
	timeout  time.Duration
	log      logger.Logger
}

func OpenChat(registry *ws.Registry, threadID string, session UserSource, timeout time.Duration, log logger.Logger) *ChatChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	path := fmt.Sprintf("/ws/chat/%s", threadID)
	return &ChatChannel{
		threadID: threadID,
		path:     path,
		registry: registry,
		sock:     registry.GetOrCreate(path),
		session:  session,
		timeout:  timeout,
		log:      log,
	}
}

func (c *ChatChannel) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx)
}

func (c *ChatChannel) Close() {
	c.registry.Remove(c.path)
}

func (c *ChatChannel) Socket() *ws.Socket {
	return c.sock
}

func (c *ChatChannel) Subscribe(h func(ChatEvent)) func() {
	return subscribeTypes(c.sock, chatEventTypes, func(data []byte) {
		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode chat event", "thread_id", c.threadID, "error", err)
			return
		}
		h(ev)
	})
}

// SendMessage delivers one chat message with the same correlation scheme as
// bid placement: the echoed message frame carrying our client id confirms,
// an error frame scoped to it rejects, and the timeout bounds the wait.
func (c *ChatChannel) SendMessage(ctx context.Context, body string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty chat message", domain.ErrValidation)
	}

	clientID := uuid.NewString()
	confirmCh := make(chan *domain.ChatMessage, 1)
	errCh := make(chan error, 1)
	closedCh := make(chan struct{}, 1)

	offClose := c.sock.On(ws.EventClose, func(ws.EventInfo) {
		if !c.sock.Closed() {
			return
		}
		select {
		case closedCh <- struct{}{}:
		default:
		}
	})
	defer offClose()

	offMsg := c.sock.OnMessage(domain.TypeChatMessage, func(data []byte) {
		if gjson.GetBytes(data, "message.client_id").String() != clientID {
			return
		}
		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Message == nil {
			return
		}
		select {
		case confirmCh <- ev.Message:
		default:
		}
	})
	defer offMsg()

	offErr := c.sock.OnMessage(domain.TypeError, func(data []byte) {
		if gjson.GetBytes(data, "client_id").String() != clientID {
			return
		}
		msg := gjson.GetBytes(data, "message").String()
		select {
		case errCh <- fmt.Errorf("chat send rejected: %s", msg):
		default:
		}
	})
	defer offErr()

	send := map[string]any{
		"action":    domain.ActionSendMessage,
		"body":      body,
		"client_id": clientID,
	}
	if c.session != nil {
		send["sender"] = c.session.UserID()
	}
	if err := c.sock.Send(ctx, send); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return nil, err
	case msg := <-confirmCh:
		return msg, nil
	case <-closedCh:
		return nil, domain.ErrSocketClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: no chat acknowledgement within %s", domain.ErrTimeout, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Typing sends a fire-and-forget typing indicator.
func (c *ChatChannel) Typing(ctx context.Context) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionTyping})
}

// History requests one page of the thread's messages via the subscribed
// stream.
func (c *ChatChannel) History(ctx context.Context, page, pageSize int) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionGetHistory, Page: page, PageSize: pageSize})
}
