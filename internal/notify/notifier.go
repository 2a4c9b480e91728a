// Package notify pushes alert photos to an operator channel. Sends are
// fire-and-forget: the hot path never waits on the messenger API.
package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// Notifier delivers an alert photo for a camera. Implementations must not
// block the caller and must contain their own failures.
type Notifier interface {
	SendPhoto(camID string, jpeg []byte)
}

// Telegram sends alert photos through the Telegram bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token, chatID string, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 3 * time.Second},
		log:    log,
	}
}

// SendPhoto posts the JPEG with an intrusion caption in a detached goroutine.
// Errors are logged and swallowed; delivery is best-effort.
func (t *Telegram) SendPhoto(camID string, jpeg []byte) {
	payload := make([]byte, len(jpeg))
	copy(payload, jpeg)
	go t.send(camID, payload)
}

func (t *Telegram) send(camID string, jpeg []byte) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("photo", "alert.jpg")
	if err != nil {
		t.log.Warn("notification build failed", "camera", camID, "error", err)
		return
	}
	if _, err := part.Write(jpeg); err != nil {
		t.log.Warn("notification build failed", "camera", camID, "error", err)
		return
	}
	writer.WriteField("chat_id", t.chatID)
	writer.WriteField("caption", fmt.Sprintf("[ALERT] %s: intruder detected", camID))
	if err := writer.Close(); err != nil {
		t.log.Warn("notification build failed", "camera", camID, "error", err)
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendPhoto", t.token)
	resp, err := t.client.Post(url, writer.FormDataContentType(), body)
	if err != nil {
		t.log.Warn("notification send failed", "camera", camID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.Warn("notification rejected", "camera", camID, "status", resp.StatusCode)
		return
	}
	t.log.Info("notification sent", "camera", camID)
}

// Nop is a Notifier that discards photos. Used when no channel is configured.
type Nop struct{}

// SendPhoto discards the photo.
func (Nop) SendPhoto(camID string, jpeg []byte) {}
