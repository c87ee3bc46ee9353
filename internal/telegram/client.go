// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats confidence/performance reports into human-readable messages and
// handles delivery with retry logic for reliability.
//
// Messages use MarkdownV2; every dynamic value goes through escapeMarkdownV2.
package telegram

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/viktor-monitor/viktor/internal/logger"
	"github.com/viktor-monitor/viktor/internal/models"
)

// sender is the subset of the bot API used for delivery.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ReportFunc builds a fresh report for a source on demand.
type ReportFunc func(ctx context.Context, source models.Source) (*models.Report, error)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c, err := newClient(bot, chatID, maxRetries, retryDelayBase)
	if err != nil {
		return nil, err
	}
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
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

	return &Client{
		sender:         s,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// Send sends a report notification
func (c *Client) Send(report *models.Report) error {
	return c.send(c.formatMessage(report))
}

// SendError notifies that a report cycle failed.
func (c *Client) SendError(cycleErr error) error {
	message := "⚠️ *Report cycle failed*\n\n"
	message += escapeMarkdownV2(cycleErr.Error())
	return c.send(message)
}

// SendRecovery notifies that cycles succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	noun := "cycles"
	if failures == 1 {
		noun = "cycle"
	}
	message := fmt.Sprintf("✅ *Recovered* after %s failed %s",
		escapeMarkdownV2(humanize.Comma(int64(failures))), noun)
	return c.send(message)
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// ListenForCommands answers /report [daily|weekly] and /help in the configured
// chat until ctx is done. It returns immediately; updates are handled in a
// background goroutine.
func (c *Client) ListenForCommands(ctx context.Context, reportFn ReportFunc, defaultSource models.Source) {
	if c.bot == nil {
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		defer c.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg := update.Message
				if msg == nil || !msg.IsCommand() || msg.Chat.ID != c.chatID {
					continue
				}
				logger.Debug("Received Telegram command /%s", msg.Command())
				reply := c.commandReply(ctx, msg.Command(), msg.CommandArguments(), reportFn, defaultSource)
				if err := c.send(reply); err != nil {
					logger.Warn("Failed to answer Telegram command /%s: %v", msg.Command(), err)
				}
			}
		}
	}()
}

func (c *Client) commandReply(ctx context.Context, command, args string, reportFn ReportFunc, defaultSource models.Source) string {
	switch command {
	case "report":
		source := defaultSource
		if arg := strings.TrimSpace(args); arg != "" {
			source = models.Source(strings.ToLower(arg))
		}
		if !source.Valid() {
			return escapeMarkdownV2(fmt.Sprintf("Unknown source %q, use daily or weekly.", args))
		}
		report, err := reportFn(ctx, source)
		if err != nil {
			return escapeMarkdownV2("Failed to build report: " + err.Error())
		}
		return c.formatMessage(report)
	case "help", "start":
		return escapeMarkdownV2("/report [daily|weekly] - confidence vs performance summary")
	default:
		return escapeMarkdownV2("Unknown command /" + command + ", try /help.")
	}
}

// formatMessage formats a report into a Telegram message
func (c *Client) formatMessage(report *models.Report) string {
	var b strings.Builder
	m := report.Metrics

	fmt.Fprintf(&b, "📊 *Confidence vs Performance* \\(%s\\)\n", escapeMarkdownV2(string(report.Source)))
	fmt.Fprintf(&b, "📅 Generated: %s\n\n", escapeMarkdownV2(report.GeneratedAt.UTC().Format("2006-01-02 15:04:05")))

	fmt.Fprintf(&b, "Points: *%s* from %s runs\n",
		escapeMarkdownV2(humanize.Comma(int64(len(report.Points)))),
		escapeMarkdownV2(humanize.Comma(int64(report.RunCount))))
	if report.MinConfidence > 0 {
		fmt.Fprintf(&b, "Min confidence: %s\n", escapeMarkdownV2(fmt.Sprintf("%.0f%%", report.MinConfidence)))
	}
	if !report.LatestRunAt.IsZero() {
		age := c.now().Sub(report.LatestRunAt)
		fmt.Fprintf(&b, "Latest run: %s ago\n", escapeMarkdownV2(formatDuration(age)))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "🔗 Correlation: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.3f", m.Correlation)))
	fmt.Fprintf(&b, "🎯 Avg confidence: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f%%", m.AvgConfidence)))
	fmt.Fprintf(&b, "📈 Avg performance: %s\n", escapeMarkdownV2(fmt.Sprintf("%+.2f%%", m.AvgPerformance)))
	fmt.Fprintf(&b, "✅ Positive rate: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", m.PositiveRate)))

	best, worst, ok := bestAndWorst(report.RangeBrackets)
	if ok {
		b.WriteString("\n")
		fmt.Fprintf(&b, "🏆 Best range: %s\n", formatBracket(best))
		if worst.Label != best.Label {
			fmt.Fprintf(&b, "🪫 Worst range: %s\n", formatBracket(worst))
		}
	}

	return b.String()
}

// bestAndWorst picks the populated range brackets with the highest and lowest
// average performance. Ties keep the lower range.
func bestAndWorst(brackets []models.RangeBracket) (best, worst models.RangeBracket, ok bool) {
	best.Average = math.Inf(-1)
	worst.Average = math.Inf(1)
	for _, br := range brackets {
		if br.Count == 0 {
			continue
		}
		ok = true
		if br.Average > best.Average {
			best = br
		}
		if br.Average < worst.Average {
			worst = br
		}
	}
	return best, worst, ok
}

func formatBracket(br models.RangeBracket) string {
	return escapeMarkdownV2(fmt.Sprintf("%s%% (avg %+.2f%%, %s tokens)",
		br.Label, br.Average, humanize.Comma(int64(br.Count))))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! \
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	if hours >= 48 {
		return fmt.Sprintf("%dd", hours/24)
	}
	if hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
