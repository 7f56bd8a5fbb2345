package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"

	"membify/internal/domain"
	"membify/internal/logging"
)

const defaultPhotoContentType = "image/jpeg"

// Photo is a chat photo streamed from the Bot API file server. Callers must
// close Body.
type Photo struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// DownloadChatPhoto resolves fileID with getFile and opens the file. The
// download link carries the bot token, so it is only used for this request
// and never returned.
func (c *Client) DownloadChatPhoto(ctx context.Context, token, fileID string) (Photo, error) {
	if ctx == nil {
		return Photo{}, errors.New("context is required")
	}
	if strings.TrimSpace(fileID) == "" {
		return Photo{}, errors.New("file id is required")
	}

	api, err := c.botFor(token)
	if err != nil {
		return Photo{}, err
	}

	file, err := api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return Photo{}, apiError("getFile", err)
	}
	if file == nil || file.FilePath == "" {
		return Photo{}, &domain.TelegramAPIError{Method: "getFile", Description: "file is not available for download"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.FileDownloadLink(file), nil)
	if err != nil {
		return Photo{}, &domain.TelegramAPIError{Method: "downloadFile", Err: redactURLError(err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Photo{}, &domain.TelegramAPIError{Method: "downloadFile", Err: redactURLError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return Photo{}, &domain.TelegramAPIError{
			Method:      "downloadFile",
			Code:        resp.StatusCode,
			Description: http.StatusText(resp.StatusCode),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = defaultPhotoContentType
	}

	c.logger.WithFields(logging.Fields{
		"event": "telegram_photo_downloaded",
		"bytes": resp.ContentLength,
	}).Debug("opened chat photo")

	return Photo{
		Body:        resp.Body,
		ContentType: contentType,
		Size:        resp.ContentLength,
	}, nil
}
