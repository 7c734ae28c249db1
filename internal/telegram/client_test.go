package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/meterbot/internal/models"
)

type stubBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	fails   int
	updates chan tgbotapi.Update
}

func (b *stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails > 0 {
		b.fails--
		return tgbotapi.Message{}, errors.New("Too Many Requests")
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (b *stubBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *stubBot) StopReceivingUpdates() {}

func (b *stubBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

func mustClient(t *testing.T, bot botAPI, opts Options) *Client {
	t.Helper()
	c, err := newClient(bot, "12345", 3, time.Millisecond, opts)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	return c
}

func sampleReport() *models.CycleReport {
	started := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	r := &models.CycleReport{
		ID:        "cycle-1",
		StartedAt: started,
		Results: []models.ClassificationResult{
			{MeterName: "Ayon", Kind: models.KindConsumption, Summary: "Used 25.25, balance 95.25", Usage: 84.5, StateUpdated: true},
			{MeterName: "Arif", Kind: models.KindRecharge, Summary: "Recharged 500.00, balance 510.00", Usage: 12, StateUpdated: true},
			{MeterName: "Payel", Kind: models.KindFetchFailed, Summary: "Fetch failed after 2 attempt(s): timeout error: context deadline exceeded", Note: "state not updated"},
		},
	}
	r.Tally()
	return r
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"120.50", "120\\.50"},
		{"+5.00", "\\+5\\.00"},
		{"a_b*c", "a\\_b\\*c"},
		{"(x) [y] {z}", "\\(x\\) \\[y\\] \\{z\\}"},
		{"done!", "done\\!"},
		{"2024-06-01", "2024\\-06\\-01"},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatReport(t *testing.T) {
	dhaka := time.FixedZone("BST", 6*60*60)
	c := mustClient(t, &stubBot{}, Options{Location: dhaka, Schedule: "daily at 08:00 (Asia/Dhaka)", ShowSchedule: true})

	msg := c.formatReport(sampleReport())

	wants := []string{
		"📅 2024\\-06\\-01 08:00",
		"📉 *Ayon*",
		"Used 25\\.25, balance 95\\.25",
		"Usage this month: 84\\.50 kWh",
		"🔋 *Arif*",
		"❌ *Payel*",
		"✅ 2 ok",
		"❌ 1 failed",
		"🔋 1 recharged",
		"⏰ Schedule: daily at 08:00 \\(Asia/Dhaka\\)",
	}
	for _, w := range wants {
		if !strings.Contains(msg, w) {
			t.Errorf("Expected message to contain %q, got:\n%s", w, msg)
		}
	}
	if strings.Contains(msg, "Usage this month: 0\\.00") {
		t.Error("Failed meters must not show usage")
	}
}

func TestFormatReport_ScheduleHidden(t *testing.T) {
	c := mustClient(t, &stubBot{}, Options{Schedule: "daily at 08:00", ShowSchedule: false})
	if msg := c.formatReport(sampleReport()); strings.Contains(msg, "Schedule") {
		t.Errorf("Expected no schedule footer, got:\n%s", msg)
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	bot := &stubBot{fails: 2}
	c := mustClient(t, bot, Options{})

	if err := c.Send(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Expected send to succeed after retries, got %v", err)
	}
	texts := bot.texts()
	if len(texts) != 1 {
		t.Fatalf("Expected 1 delivered message, got %d", len(texts))
	}
	if bot.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 || bot.sent[0].ChatID != 12345 {
		t.Errorf("Unexpected message config: %+v", bot.sent[0])
	}
}

func TestSend_GivesUp(t *testing.T) {
	bot := &stubBot{fails: 10}
	c := mustClient(t, bot, Options{})

	err := c.Send(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "after 3 retries") {
		t.Errorf("Expected failure after 3 retries, got %v", err)
	}
	if bot.fails != 7 {
		t.Errorf("Expected exactly 3 attempts, %d failures left", bot.fails)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&stubBot{}, "not-a-number", 3, time.Second, Options{}); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}

type stubController struct {
	status   models.EngineStatus
	accept   bool
	triggers int
}

func (s *stubController) Status() models.EngineStatus { return s.status }

func (s *stubController) Trigger(context.Context) bool {
	s.triggers++
	return s.accept
}

func command(chatID int64, cmd string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/" + cmd,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}},
	}}
}

func TestHandleUpdate(t *testing.T) {
	last := &models.CycleSummary{StartedAt: time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC), Meters: 5, Succeeded: 4, Failed: 1}
	ctrl := &stubController{
		status: models.EngineStatus{State: "waiting", Schedule: "daily at 08:00", LastCycle: last, ConsecutiveFailures: 0},
		accept: true,
	}
	bot := &stubBot{}
	c := mustClient(t, bot, Options{})
	ctx := context.Background()

	c.handleUpdate(ctx, ctrl, command(12345, "status"))
	c.handleUpdate(ctx, ctrl, command(12345, "check"))
	ctrl.accept = false
	c.handleUpdate(ctx, ctrl, command(12345, "check"))
	c.handleUpdate(ctx, ctrl, command(999, "check"))
	c.handleUpdate(ctx, ctrl, tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: 12345}}})

	texts := bot.texts()
	if len(texts) != 3 {
		t.Fatalf("Expected 3 replies, got %d: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], "State: waiting") || !strings.Contains(texts[0], "partial, 4/5 ok") {
		t.Errorf("Unexpected status reply:\n%s", texts[0])
	}
	if !strings.Contains(texts[1], "Checking all meters") {
		t.Errorf("Unexpected check reply: %s", texts[1])
	}
	if !strings.Contains(texts[2], "already running") {
		t.Errorf("Unexpected busy reply: %s", texts[2])
	}
	if ctrl.triggers != 2 {
		t.Errorf("Expected 2 triggers, got %d", ctrl.triggers)
	}
}

func TestListenForCommands_StopsOnCancel(t *testing.T) {
	bot := &stubBot{updates: make(chan tgbotapi.Update, 1)}
	c := mustClient(t, bot, Options{})
	ctrl := &stubController{accept: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.ListenForCommands(ctx, ctrl)
		close(done)
	}()

	bot.updates <- command(12345, "help")
	deadline := time.After(time.Second)
	for len(bot.texts()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Expected a reply to /help")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenForCommands did not stop")
	}
}

func TestFormatPlain(t *testing.T) {
	lines := FormatPlain(sampleReport())
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "2 ok, 1 failed") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[3], "(state not updated)") {
		t.Errorf("Expected note on failed meter line: %s", lines[3])
	}
}

func TestAlerts(t *testing.T) {
	bot := &stubBot{}
	c := mustClient(t, bot, Options{})
	ctx := context.Background()

	if err := c.SendError(ctx, errors.New("invalid configuration: meters: duplicate id ayon")); err != nil {
		t.Fatalf("SendError failed: %v", err)
	}
	if err := c.SendFailureStreak(ctx, 3); err != nil {
		t.Fatalf("SendFailureStreak failed: %v", err)
	}
	if err := c.SendRecovery(ctx, 4); err != nil {
		t.Fatalf("SendRecovery failed: %v", err)
	}

	texts := bot.texts()
	if len(texts) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "duplicate id ayon") {
		t.Errorf("Unexpected error message: %s", texts[0])
	}
	if !strings.Contains(texts[1], "last 3 checks") {
		t.Errorf("Unexpected streak message: %s", texts[1])
	}
	if !strings.Contains(texts[2], "after 4 failed") {
		t.Errorf("Unexpected recovery message: %s", texts[2])
	}
}
