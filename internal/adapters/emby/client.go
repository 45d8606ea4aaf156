// Package emby реализует directory.Source поверх HTTP API медиасервера Emby.
//
// В этом файле (client.go):
//   - настраивается HTTP‑клиент и общий троттлер запросов;
//   - реализуется постраничное чтение справочника пользователей (/Users/Query);
//   - классифицируются ошибки сервера на временные (сеть, 429, 5xx) и
//     постоянные (остальные 4xx) через directory.RemoteError.
//
// Аутентификация — заголовок X-Emby-Token. Клиент не кэширует ответы:
// свежесть данных обеспечивает движок синхронизации.
package emby

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"emby-adminbot/internal/domain/directory"
	"emby-adminbot/internal/infra/timeutil"
)

// httpClientTimeout — таймаут HTTP‑клиента, секунды. Должен покрывать сетевые
// колебания и не зависать бесконечно на медленных соединениях.
const httpClientTimeout = 30

// Client ходит в Emby Server REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient создаёт клиент Emby. Пустые baseURL или apiKey дают
// ненастроенный клиент: Configured() вернёт false, а вызовы —
// directory.ErrNotConfigured. rps задаёт среднюю частоту запросов.
func NewClient(baseURL, apiKey string, rps int) *Client {
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Configured сообщает, задан ли адрес сервера и API-ключ.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// ListPage возвращает страницу пользователей начиная с offset и общее число
// записей по данным сервера. Payload каждой записи — полный JSON-объект
// пользователя, декодированный с сохранением чисел как json.Number.
func (c *Client) ListPage(ctx context.Context, offset, limit int) ([]directory.RemoteEntity, int, error) {
	if !c.Configured() {
		return nil, 0, directory.ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	params := url.Values{}
	params.Set("StartIndex", strconv.Itoa(offset))
	params.Set("Limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/emby/Users/Query?"+params.Encode())
	if err != nil {
		return nil, 0, err
	}

	var page struct {
		Items            []json.RawMessage `json:"Items"`
		TotalRecordCount int               `json:"TotalRecordCount"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, 0, &directory.RemoteError{Kind: directory.RemoteRejected, Message: "malformed listing: " + err.Error(), Err: err}
	}

	items := make([]directory.RemoteEntity, 0, len(page.Items))
	for _, raw := range page.Items {
		ent, err := decodeEntity(raw)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ent)
	}
	return items, page.TotalRecordCount, nil
}

// DeleteEntity удаляет пользователя на сервере. Отсутствие пользователя
// (404) возвращается как RemoteRejected со статусом 404: вызывающая сторона
// различает его через directory.IsRemoteNotFound.
func (c *Client) DeleteEntity(ctx context.Context, externalID string) error {
	if !c.Configured() {
		return directory.ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodDelete, "/emby/Users/"+url.PathEscape(externalID))
	return err
}

// do выполняет запрос и возвращает тело успешного ответа. Не-2xx ответы и
// сетевые сбои приводятся к directory.RemoteError.
func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Сетевой сбой: маршрутизатор, DNS, таймаут. Повтор уместен.
		return nil, &directory.RemoteError{Kind: directory.RemoteUnavailable, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &directory.RemoteError{Kind: directory.RemoteUnavailable, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}
	return body, nil
}

// classifyHTTPError нормализует не-2xx ответы: 429 и 5xx — временные,
// остальные 4xx — отказ по существу запроса.
func classifyHTTPError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	kind := directory.RemoteRejected
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = directory.RemoteUnavailable
	}
	return &directory.RemoteError{Kind: kind, Status: status, Message: msg}
}

// decodeEntity разбирает JSON-объект пользователя. Числа декодируются как
// json.Number: от этого зависит стабильность канонического сравнения.
func decodeEntity(raw json.RawMessage) (directory.RemoteEntity, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return directory.RemoteEntity{}, &directory.RemoteError{Kind: directory.RemoteRejected, Message: "malformed user object: " + err.Error(), Err: err}
	}

	id, _ := payload["Id"].(string)
	if id == "" {
		return directory.RemoteEntity{}, &directory.RemoteError{Kind: directory.RemoteRejected, Message: "user object without Id"}
	}
	name, _ := payload["Name"].(string)

	return directory.RemoteEntity{
		ExternalID:       id,
		Name:             name,
		Payload:          payload,
		DateCreated:      parseTimeField(payload, "DateCreated"),
		LastLoginDate:    parseTimeField(payload, "LastLoginDate"),
		LastActivityDate: parseTimeField(payload, "LastActivityDate"),
	}, nil
}

// parseTimeField достаёт временную метку из payload. Непарсибельное значение
// трактуется как отсутствующее: проход синхронизации из-за него не падает.
func parseTimeField(payload map[string]any, key string) *time.Time {
	s, _ := payload[key].(string)
	return timeutil.ParseRemoteTime(s)
}
