// Package telegram delivers cycle reports through the Telegram Bot API.
// Reports are rendered as MarkdownV2 and sent with linear-backoff retries.
// The client can also answer /status and /check commands from the configured chat.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/meterbot/internal/logger"
	"github.com/rewired-gh/meterbot/internal/models"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controller is what bot commands act on
type Controller interface {
	Status() models.EngineStatus
	Trigger(ctx context.Context) bool
}

// Options holds presentation settings
type Options struct {
	Location     *time.Location
	Schedule     string // Human readable schedule for the report footer
	ShowSchedule bool
}

// Client handles Telegram notifications
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	loc            *time.Location
	schedule       string
	showSchedule   bool
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, opts Options) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase, opts)
}

func newClient(bot botAPI, chatID string, maxRetries int, retryDelayBase time.Duration, opts Options) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		loc:            loc,
		schedule:       opts.Schedule,
		showSchedule:   opts.ShowSchedule,
	}, nil
}

// Send delivers a cycle report
func (c *Client) Send(ctx context.Context, report *models.CycleReport) error {
	return c.sendText(ctx, c.formatReport(report))
}

// SendError notifies the chat that the bot stopped on an error
func (c *Client) SendError(ctx context.Context, err error) error {
	text := fmt.Sprintf("🛑 *Meter bot stopped*\n\n%s", escapeMarkdownV2(err.Error()))
	return c.sendText(ctx, text)
}

// SendFailureStreak warns that several cycles in a row could not read any meter
func (c *Client) SendFailureStreak(ctx context.Context, streak int) error {
	text := fmt.Sprintf("🚨 *No meter could be read in the last %d checks*\n\nThe DESCO portal may be down\\.", streak)
	return c.sendText(ctx, text)
}

// SendRecovery notifies that monitoring has recovered after failed cycles
func (c *Client) SendRecovery(ctx context.Context, failedCycles int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d failed check\\(s\\)", failedCycles)
	return c.sendText(ctx, text)
}

func (c *Client) sendText(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to send message: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// ListenForCommands answers bot commands from the configured chat until ctx is done.
func (c *Client) ListenForCommands(ctx context.Context, ctrl Controller) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	logger.Info("Listening for Telegram commands")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, ctrl, update)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, ctrl Controller, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		logger.Warn("Ignoring command /%s from unknown chat", msg.Command())
		return
	}

	var reply string
	switch msg.Command() {
	case "status":
		reply = c.formatStatus(ctrl.Status())
	case "check":
		if ctrl.Trigger(ctx) {
			reply = "🔄 Checking all meters now\\."
		} else {
			reply = "⏳ A check is already running\\."
		}
	case "start", "help":
		reply = "Commands:\n/status \\- show bot status\n/check \\- check all meters now"
	default:
		reply = "Unknown command\\. Try /help\\."
	}

	logger.Debug("Handling Telegram command /%s", msg.Command())
	if err := c.sendText(ctx, reply); err != nil {
		logger.Error("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// LogNotifier renders reports to the log when Telegram is disabled
type LogNotifier struct{}

// Send logs the report
func (LogNotifier) Send(_ context.Context, report *models.CycleReport) error {
	for _, line := range FormatPlain(report) {
		logger.Info("%s", line)
	}
	return nil
}
