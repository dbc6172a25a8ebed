package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"memberdeals-notifications/internal/common/logger"
)

// Fallback is the always-succeeding secondary delivery path. It must never
// return an error: in "log" mode the intended content goes to the structured
// log, in "capture" mode the rendered message is written to a local file. A
// capture write failure degrades to the log mode rather than failing.
type Fallback struct {
	mode       string
	captureDir string
	logger     logger.Logger
}

func NewFallback(mode, captureDir string, log logger.Logger) *Fallback {
	return &Fallback{
		mode:       mode,
		captureDir: captureDir,
		logger:     log.WithFields(map[string]interface{}{"transport": "fallback"}),
	}
}

func (f *Fallback) Send(_ context.Context, msg *Message) (string, error) {
	messageID := fmt.Sprintf("<fallback-%s>", uuid.New().String())

	if f.mode == "capture" {
		if path, err := f.capture(msg, messageID); err == nil {
			f.logger.Info("notification captured to local file", map[string]interface{}{
				"to":        msg.To,
				"type":      msg.Type,
				"messageId": messageID,
				"path":      path,
			})
			return messageID, nil
		} else {
			f.logger.Warn("capture write failed, logging content instead", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	f.logger.Info("notification logged instead of delivered", map[string]interface{}{
		"to":        msg.To,
		"type":      msg.Type,
		"subject":   msg.Subject,
		"messageId": messageID,
		"text":      msg.Text,
	})
	return messageID, nil
}

func (f *Fallback) capture(msg *Message, messageID string) (string, error) {
	if err := os.MkdirAll(f.captureDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%d_%s.eml", time.Now().UnixNano(), msg.Type)
	path := filepath.Join(f.captureDir, name)

	content := fmt.Sprintf(
		"Message-ID: %s\nTo: %s\nSubject: %s\nType: %s\n\n%s\n\n--- html ---\n%s\n",
		messageID, msg.To, msg.Subject, msg.Type, msg.Text, msg.HTML,
	)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
