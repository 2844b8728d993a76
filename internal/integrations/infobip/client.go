// Package infobip sends WhatsApp text messages through the Infobip API.
package infobip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://api.infobip.com"
	textPath       = "/whatsapp/1/message/text"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx responses from Infobip.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("infobip: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type textMessage struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	MessageID string      `json:"messageId"`
	Content   textContent `json:"content"`
	NotifyURL string      `json:"notifyUrl,omitempty"`
}

type textContent struct {
	Text string `json:"text"`
}

type sendResponse struct {
	To        string `json:"to"`
	MessageID string `json:"messageId"`
	Status    struct {
		GroupName   string `json:"groupName"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"status"`
}

// SendResult is the delivery acknowledgement returned by Infobip.
type SendResult struct {
	To        string
	MessageID string
	Status    string
}

// Client posts text messages on behalf of one WhatsApp sender number.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     Getter
	keyParam   string
	sender     string
	notifyURL  string
	newID      func() string
	logger     *slog.Logger

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimSpace(baseURL); b != "" {
			c.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifyURL sets the delivery-report callback sent with each message.
func WithNotifyURL(u string) Option {
	return func(c *Client) {
		c.notifyURL = strings.TrimSpace(u)
	}
}

func NewClient(getter Getter, keyParam, sender string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("infobip: parameter getter must not be nil")
	}
	keyParam = strings.TrimSpace(keyParam)
	if keyParam == "" {
		return nil, errors.New("infobip: key parameter name must not be empty")
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, errors.New("infobip: sender number must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		getter:     getter,
		keyParam:   keyParam,
		sender:     sender,
		newID:      uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.keyParam)
	if err != nil {
		return "", fmt.Errorf("infobip: fetch API key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("infobip: API key is empty")
	}
	c.apiKey = raw
	c.logger.Info("infobip API key loaded", "param", c.keyParam, "key", MaskKey(raw))
	return raw, nil
}

// FormatPhoneNumber trims the number and ensures the international "+" prefix.
func FormatPhoneNumber(phone string) string {
	formatted := strings.TrimSpace(phone)
	if formatted == "" || strings.HasPrefix(formatted, "+") {
		return formatted
	}
	return "+" + formatted
}

// MaskKey keeps the first and last characters of a secret for logging.
func MaskKey(key string) string {
	if len(key) <= 14 {
		return "***"
	}
	return key[:10] + "..." + key[len(key)-4:]
}

// SendText sends text to the recipient number.
func (c *Client) SendText(ctx context.Context, to, text string) (SendResult, error) {
	to = FormatPhoneNumber(to)
	if to == "" {
		return SendResult{}, errors.New("infobip: recipient must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return SendResult{}, errors.New("infobip: text must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return SendResult{}, err
	}

	msgID := c.newID()
	body, err := json.Marshal(textMessage{
		From:      c.sender,
		To:        to,
		MessageID: msgID,
		Content:   textContent{Text: text},
		NotifyURL: c.notifyURL,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip: marshal request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + textPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip: create request: %w", err)
	}
	req.Header.Set("Authorization", "App "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return SendResult{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload sendResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return SendResult{}, fmt.Errorf("infobip: decode response: %w", err)
	}
	out := SendResult{To: to, MessageID: payload.MessageID, Status: payload.Status.Name}
	if out.MessageID == "" {
		out.MessageID = msgID
	}
	return out, nil
}
