// Package botapi реализует directory.NotificationSink поверх Telegram Bot API.
//
// Уведомления доставляются одним сообщением в административный чат через
// sendMessage. Ошибки классифицируются на временные (429, 5xx, сеть) и
// постоянные (остальные 4xx); одна повторная попытка делается только для
// временных — уведомление не настолько ценно, чтобы ради него зависать.
package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"emby-adminbot/internal/domain/directory"
)

// httpClientTimeout — таймаут HTTP‑клиента, секунды.
const httpClientTimeout = 30

// Notifier отправляет уведомления администраторам через Telegram Bot API.
type Notifier struct {
	baseURL string
	chatID  int64
	client  *http.Client
	limiter *rate.Limiter
}

// NewNotifier создаёт канал уведомлений для бота. Формирует базовый URL вида
// https://api.telegram.org/bot<token>/sendMessage; rps задаёт целевую
// среднюю частоту запросов.
func NewNotifier(token string, chatID int64, rps int) *Notifier {
	if rps <= 0 {
		rps = 1
	}
	return &Notifier{
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token),
		chatID:  chatID,
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Notify доставляет сводку операции в административный чат.
func (n *Notifier) Notify(ctx context.Context, note directory.Notification) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	permanent, err := n.sendMessage(ctx, renderNotification(note))
	if err == nil || permanent {
		return err
	}
	// Одна повторная попытка для временных сбоев.
	if werr := n.limiter.Wait(ctx); werr != nil {
		return werr
	}
	_, err = n.sendMessage(ctx, renderNotification(note))
	return err
}

// renderNotification собирает текст сообщения: заголовок операции, причина и
// результаты шагов построчно.
func renderNotification(note directory.Notification) string {
	var b strings.Builder
	switch note.Action {
	case "ban":
		b.WriteString("🚫 Блокировка пользователя ")
	case "unban":
		b.WriteString("✳️ Разблокировка пользователя ")
	default:
		b.WriteString("Операция ")
	}
	b.WriteString(note.TargetID)
	if note.ActorID == 0 {
		b.WriteString(" (автоматически)")
	} else {
		b.WriteString(" (администратор " + strconv.FormatInt(note.ActorID, 10) + ")")
	}
	if note.Reason != "" {
		b.WriteString("\nПричина: " + note.Reason)
	}
	for _, step := range note.Steps {
		b.WriteString("\n" + step)
	}
	return b.String()
}

// sendMessage выполняет GET /sendMessage. Возвращает (permanent, err):
//
//   - permanent=true, err!=nil  — ошибка 4xx, повтор бесполезен;
//   - permanent=false, err!=nil — временная ошибка или сетевой сбой;
//   - permanent=false, err==nil — успех.
func (n *Notifier) sendMessage(ctx context.Context, text string) (bool, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(n.chatID, 10))
	params.Set("text", text)
	params.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return handleHTTPError(resp.StatusCode, body)
	}
	return handleJSONResponse(body)
}

// handleHTTPError нормализует не-200 ответы HTTP в (permanent, error).
func handleHTTPError(status int, body []byte) (bool, error) {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return false, errors.Errorf("bot api rate limit (%d): %s", status, msg)
	case status >= 400 && status < 500:
		return true, errors.Errorf("bot api client error (%d): %s", status, msg)
	default:
		return false, errors.Errorf("bot api server error (%d): %s", status, msg)
	}
}

// handleJSONResponse разбирает JSON Bot API по тем же правилам, учитывая
// parameters.retry_after.
func handleJSONResponse(body []byte) (bool, error) {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return false, errors.Wrap(err, "bot api decode response")
	}
	if apiResp.OK {
		return false, nil
	}
	msg := strings.TrimSpace(apiResp.Description)
	if msg == "" {
		msg = "(empty bot api description)"
	}
	if apiResp.ErrorCode == http.StatusTooManyRequests {
		return false, errors.Errorf("bot api rate limit (%d): %s", apiResp.ErrorCode, msg)
	}
	if isPermanentBotError(apiResp.ErrorCode, apiResp.Description) {
		return true, errors.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)
	}
	return false, errors.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)
}

// isPermanentBotError: большинство 4xx — постоянные ошибки, но retry_after
// сигнализирует о временном сбое.
func isPermanentBotError(code int, desc string) bool {
	if code == http.StatusTooManyRequests {
		return false
	}
	desc = strings.ToLower(desc)
	if strings.Contains(desc, "retry_after") || strings.Contains(desc, "retry after") {
		return false
	}
	return code >= 400 && code < 500
}
