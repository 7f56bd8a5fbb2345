package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"
	jsoniter "github.com/json-iterator/go"

	"membify/internal/domain"
	"membify/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// allowedUpdates lists the update kinds that can carry a verification code or
// reveal a chat the bot was added to.
var allowedUpdates = []string{
	"message",
	"edited_message",
	"channel_post",
	"edited_channel_post",
	"my_chat_member",
}

type updatesResponse struct {
	OK          bool            `json:"ok"`
	Result      []models.Update `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// FetchRecentUpdates calls getUpdates once for the newest updates: the
// negative offset asks for the last limit updates of the queue, so a freshly
// posted code is seen however many older updates are pending. Telegram drops
// everything before that window. Failures are returned as
// *domain.TelegramAPIError and never retried here.
func (c *Client) FetchRecentUpdates(ctx context.Context, token string) ([]models.Update, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("bot token is required")
	}

	allowed, err := json.Marshal(allowedUpdates)
	if err != nil {
		return nil, fmt.Errorf("encode allowed updates: %w", err)
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(-c.updatesLimit))
	query.Set("limit", strconv.Itoa(c.updatesLimit))
	query.Set("timeout", strconv.Itoa(int(c.updatesTimeout.Seconds())))
	query.Set("allowed_updates", string(allowed))

	endpoint := c.apiURL + "/bot" + token + "/getUpdates?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.TelegramAPIError{Method: "getUpdates", Err: redactURLError(err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TelegramAPIError{Method: "getUpdates", Err: redactURLError(err)}
	}
	defer resp.Body.Close()

	var payload updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.TelegramAPIError{
			Method: "getUpdates",
			Code:   resp.StatusCode,
			Err:    fmt.Errorf("decode response: %w", err),
		}
	}

	if !payload.OK {
		description := strings.TrimSpace(payload.Description)
		if description == "" {
			description = http.StatusText(resp.StatusCode)
		}
		return nil, &domain.TelegramAPIError{
			Method:      "getUpdates",
			Code:        payload.ErrorCode,
			Description: description,
		}
	}

	c.logger.WithFields(logging.Fields{
		"event":   "telegram_updates_fetched",
		"updates": len(payload.Result),
	}).Debug("fetched recent updates")

	return payload.Result, nil
}

// redactURLError drops the request URL, which embeds the bot token, from
// transport errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}
