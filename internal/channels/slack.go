package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/config"
)

// threadSep separates the Slack channel id from the thread timestamp in a
// bus chat id, so every thread maps onto its own session.
const threadSep = "/"

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// SlackChannel receives direct messages and mentions over Socket Mode and
// posts replies with the Web API.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    *slack.Client
	allow  map[string]bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlackChannel creates the Slack channel. httpClient may be nil.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, httpClient *http.Client) (*SlackChannel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("slack: missing bot token")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"

	opts := []slack.Option{slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(base)}
	if tok := strings.TrimSpace(cfg.AppToken); tok != "" {
		opts = append(opts, slack.OptionAppLevelToken(tok))
	}

	allow := make(map[string]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = true
		}
	}
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		api:         slack.New(strings.TrimSpace(cfg.BotToken), opts...),
		allow:       allow,
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

// Start subscribes to outbound replies and opens the Socket Mode
// connection in the background.
func (c *SlackChannel) Start(ctx context.Context) error {
	if strings.TrimSpace(c.config.AppToken) == "" {
		return errors.New("slack: socket mode needs an app token")
	}
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("Slack send failed", "chat", msg.ChatID, "trace_id", msg.TraceID, "error", err)
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	client := socketmode.New(c.api)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.consume(runCtx, client)
	go func() {
		defer close(done)
		if err := client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	slog.Info("Slack channel started")
	return nil
}

// Stop closes the Socket Mode connection.
func (c *SlackChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *SlackChannel) consume(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Info("Slack socket mode connected")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				c.HandleEvent(ev)
			}
		}
	}
}

// HandleEvent publishes a message or mention event to the bus. It reports
// whether the event was accepted.
func (c *SlackChannel) HandleEvent(ev slackevents.EventsAPIEvent) bool {
	if ev.Type != slackevents.CallbackEvent {
		return false
	}
	var in slackInbound
	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if e == nil || e.ChannelType != "im" {
			return false
		}
		if e.BotID != "" || e.SubType != "" {
			return false
		}
		in = slackInbound{user: e.User, channel: e.Channel, thread: e.ThreadTimeStamp, ts: e.TimeStamp, text: e.Text}
	case *slackevents.AppMentionEvent:
		if e == nil || e.BotID != "" {
			return false
		}
		thread := e.ThreadTimeStamp
		if thread == "" {
			thread = e.TimeStamp
		}
		in = slackInbound{user: e.User, channel: e.Channel, thread: thread, ts: e.TimeStamp, text: e.Text}
	default:
		return false
	}
	return c.publish(in)
}

type slackInbound struct {
	user    string
	channel string
	thread  string
	ts      string
	text    string
}

func (c *SlackChannel) publish(in slackInbound) bool {
	user := strings.TrimSpace(in.user)
	if user == "" || user == strings.TrimSpace(c.config.BotUserID) {
		return false
	}
	if len(c.allow) > 0 && !c.allow[user] {
		slog.Debug("Slack sender not allowed", "user", user)
		return false
	}
	text := cleanSlackText(in.text)
	if text == "" {
		return false
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  user,
		ChatID:    joinChat(in.channel, in.thread),
		TraceID:   uuid.NewString(),
		Content:   text,
		Timestamp: slackTime(in.ts),
	})
	return true
}

// Send posts msg to the channel and thread encoded in its chat id.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	channelID, thread := splitChat(msg.ChatID)
	if channelID == "" {
		return fmt.Errorf("slack: empty chat id")
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil
	}
	return withRetry(3, 200*time.Millisecond, func() (bool, error) {
		opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
		if thread != "" {
			opts = append(opts, slack.MsgOptionTS(thread))
		}
		_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
		return retryDecision(ctx, err)
	})
}

func cleanSlackText(s string) string {
	s = mentionRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func joinChat(channelID, thread string) string {
	channelID = strings.TrimSpace(channelID)
	if thread = strings.TrimSpace(thread); thread == "" {
		return channelID
	}
	return channelID + threadSep + thread
}

func splitChat(chatID string) (channelID, thread string) {
	channelID, thread, _ = strings.Cut(strings.TrimSpace(chatID), threadSep)
	return channelID, thread
}

// slackTime parses a message timestamp such as "1700000000.000100".
func slackTime(ts string) time.Time {
	secs, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil || n <= 0 {
		return time.Now()
	}
	return time.Unix(n, 0)
}

func retryDecision(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			select {
			case <-time.After(rle.RetryAfter):
			case <-ctx.Done():
				return false, err
			}
		}
		return true, err
	}
	return false, err
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}
