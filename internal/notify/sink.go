// Package notify fans a notification out to every user when a freshly
// synced comment carries a watched intent.
package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/store"
	"github.com/replydesk/pkg/models"
)

// previewLength is the fixed notification preview size in characters.
const previewLength = 60

// Sink creates notification rows for qualifying intents. All failures are
// logged and swallowed: notification fan-out never blocks a sync.
type Sink struct {
	store store.Store
}

// NewSink returns a Sink backed by the given store.
func NewSink(s store.Store) *Sink {
	return &Sink{store: s}
}

// qualifies reports whether the intent is one staff watch for.
func qualifies(intent string) bool {
	switch strings.ToLower(intent) {
	case "complaint", "question":
		return true
	}
	return false
}

// NotifyIfQualifying creates one notification per known user when the intent
// is a watched category. No-op otherwise.
func (s *Sink) NotifyIfQualifying(ctx context.Context, message *models.Message, intent string, accountID int64, postExternalID string) {
	if !qualifies(intent) {
		return
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Error().Err(err).Int64("message_id", message.ID).Msg("Failed to list users for notification fan-out")
		return
	}

	preview := Preview(message.Content)
	for _, user := range users {
		n := &models.Notification{
			UserID:         user.ID,
			MessageID:      message.ID,
			AccountID:      accountID,
			PostExternalID: postExternalID,
			Intent:         intent,
			Content:        preview,
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			log.Error().
				Err(err).
				Int64("user_id", user.ID).
				Int64("message_id", message.ID).
				Msg("Failed to create notification")
		}
	}
}

// Preview returns the first 60 characters of text.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength])
}
