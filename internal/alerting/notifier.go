package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"xalpha/internal/model"
)

// Notification 封装一条新信号的推送上下文。
type Notification struct {
	Signal  model.Signal
	CycleID string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Filter 决定哪些信号需要推送。
type Filter struct {
	Types []model.SignalType
	// MinConviction 为最低确信度: BUY/WATCH/NEUTRAL 取情绪分, SELL 取 10 - 情绪分。
	MinConviction int
}

// NewFilter 由配置中的类型字符串构造过滤器, 未知类型被忽略。
func NewFilter(types []string, minConviction int) Filter {
	f := Filter{MinConviction: minConviction}
	for _, raw := range types {
		if t, ok := model.ParseSignalType(raw); ok {
			f.Types = append(f.Types, t)
		}
	}
	return f
}

// Allow 报告信号是否满足推送条件。
func (f Filter) Allow(signal model.Signal) bool {
	matched := false
	for _, t := range f.Types {
		if t == signal.SignalType {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return Conviction(signal) >= f.MinConviction
}

// Conviction 将情绪分转换为方向无关的确信度。
func Conviction(signal model.Signal) int {
	if signal.SignalType == model.SignalSell {
		return 10 - signal.Sentiment
	}
	return signal.Sentiment
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     renderMessage(note),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("id", note.Signal.ID).
		Str("author", note.Signal.Author).
		Str("signal_type", string(note.Signal.SignalType)).
		Str("cycle_id", note.CycleID).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	sig := note.Signal
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[X-Alpha %s] @%s\n", sig.SignalType, sig.Author))
	builder.WriteString(fmt.Sprintf("Sentiment: %d/10\n", sig.Sentiment))
	if len(sig.Assets) > 0 {
		builder.WriteString(fmt.Sprintf("Assets: %s\n", strings.Join(sig.Assets, ", ")))
	}
	if len(sig.Tags) > 0 {
		builder.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(sig.Tags, ", ")))
	}
	if !sig.PublishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Published: %s UTC\n", sig.PublishedAt.UTC().Format(time.RFC3339)))
	}
	if sig.Summary != "" {
		builder.WriteString(fmt.Sprintf("Summary: %s\n", sig.Summary))
	}
	if sig.SourceURL != "" && !strings.Contains(sig.Summary, sig.SourceURL) {
		builder.WriteString(sig.SourceURL)
	}
	return strings.TrimRight(builder.String(), "\n")
}

var _ Notifier = (*TelegramNotifier)(nil)
