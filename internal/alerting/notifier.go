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

	"whaleinsight/internal/domain"
)

// Kind 区分告警类型。
type Kind string

const (
	KindRunFailed    Kind = "run_failed"
	KindStaleSummary Kind = "stale_summary"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind            Kind
	OccurredAt      time.Time
	InstitutionCIK  string
	AccessionNumber string
	ReportPeriod    string
	RunID           string
	RunKind         domain.RunKind
	Error           *domain.RunErrorPayload
	StaleRows       int
	TotalRows       int
	StaleTickers    []string
	AdditionalMsg   string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
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
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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
		Str("kind", string(note.Kind)).
		Str("cik", note.InstitutionCIK).
		Str("accession", note.AccessionNumber).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindRunFailed:
		builder.WriteString("[13F Ingestion Failure]\n")
	case KindStaleSummary:
		builder.WriteString("[13F Stale Prices]\n")
	default:
		builder.WriteString("[13F Notice]\n")
	}
	if !note.OccurredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.OccurredAt.UTC().Format(time.RFC3339)))
	}
	if note.InstitutionCIK != "" {
		builder.WriteString(fmt.Sprintf("Institution: %s\n", note.InstitutionCIK))
	}
	if note.ReportPeriod != "" {
		builder.WriteString(fmt.Sprintf("Period: %s\n", note.ReportPeriod))
	}
	if note.AccessionNumber != "" {
		builder.WriteString(fmt.Sprintf("Accession: %s\n", note.AccessionNumber))
	}
	if note.RunKind != "" {
		builder.WriteString(fmt.Sprintf("Run: %s %s\n", note.RunKind, note.RunID))
	}
	if note.Error != nil {
		builder.WriteString(fmt.Sprintf("Error: %s/%s (retries %d", note.Error.Source, note.Error.Reason, note.Error.Retries))
		if note.Error.Status != 0 {
			builder.WriteString(fmt.Sprintf(", HTTP %d", note.Error.Status))
		}
		builder.WriteString(fmt.Sprintf("): %s\n", note.Error.Message))
	}
	if note.Kind == KindStaleSummary {
		builder.WriteString(fmt.Sprintf("Stale: %d of %d priced rows\n", note.StaleRows, note.TotalRows))
		if len(note.StaleTickers) > 0 {
			builder.WriteString(fmt.Sprintf("Tickers: %s\n", strings.Join(note.StaleTickers, ",")))
		}
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
