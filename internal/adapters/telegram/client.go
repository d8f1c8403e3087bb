/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

// maxMessage is the Telegram limit on message text, in runes.
const maxMessage = 4096

type Client struct {
	token   string
	baseURL string
	chatIDs []int64
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		token:   cfg.TelegramToken,
		baseURL: strings.TrimRight(cfg.TelegramBaseURL, "/"),
		chatIDs: cfg.TelegramChatIDs,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

// Enabled reports whether a token and at least one chat are configured.
func (c *Client) Enabled() bool { return c.token != "" && len(c.chatIDs) > 0 }

// SendMessagePlain sends without parse_mode to avoid markdown parsing errors
func (c *Client) SendMessagePlain(ctx context.Context, chatID int64, text string) error {
	if c.token == "" || chatID == 0 {
		return fmt.Errorf("telegram: missing token or chat id")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	body := map[string]any{"chat_id": chatID, "text": text, "disable_web_page_preview": true}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// Emit posts an issue event to every configured chat. Field values are
// scrubbed before they leave the process.
func (c *Client) Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error {
	if !c.Enabled() {
		return fmt.Errorf("telegram: not configured")
	}
	text := renderEvent(tenant, t, payload)
	var errs []error
	for _, chatID := range c.chatIDs {
		for _, part := range chunkText(text, maxMessage) {
			if err := c.SendMessagePlain(ctx, chatID, part); err != nil {
				c.log.Warn().Err(err).Int64("chat", chatID).Str("event", string(t)).Msg("telegram: send failed")
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}
