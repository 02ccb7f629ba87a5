// Package store is the persistent repository of accounts, posts, threaded
// messages, users, and notifications. All writes are upserts keyed by
// external identifiers; uniqueness is enforced at the storage level so
// concurrent syncs cannot create duplicates.
package store

import (
	"context"

	"github.com/replydesk/pkg/models"
)

// Store is the persistence contract consumed by the sync engine, the
// notification sink, and the API layer.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListActiveAccounts(ctx context.Context) ([]models.Account, error)

	// UpsertPost creates the post if absent, otherwise merges newer
	// non-null fields over the existing row (see MergePost) and refreshes
	// last_synced_at.
	UpsertPost(ctx context.Context, post *models.Post) (*models.Post, error)

	// FindMessageByExternalID returns nil, nil when no message exists.
	FindMessageByExternalID(ctx context.Context, externalID string) (*models.Message, error)

	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// FindOrCreateMessage is safe under concurrent callers processing the
	// same external id: exactly one caller observes created == true.
	FindOrCreateMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error)

	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessagesByStatus(ctx context.Context, accountID int64, status models.MessageStatus, limit int) ([]models.Message, error)
	UpdateMessageDraft(ctx context.Context, id int64, intent, reply string) error
	MarkMessagePosted(ctx context.Context, id int64, approvedBy string) error

	ListUsers(ctx context.Context) ([]models.User, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// MergePost applies the preserve-on-null merge policy: fields the upstream
// response omitted (nil pointers, zero counters) never erase stored values.
// A genuinely lower non-zero counter does overwrite; the store does not
// enforce monotonicity.
func MergePost(existing, incoming *models.Post) *models.Post {
	merged := *existing

	if incoming.Title != nil && *incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.ThumbnailURL != nil && *incoming.ThumbnailURL != "" {
		merged.ThumbnailURL = incoming.ThumbnailURL
	}
	if incoming.EmbedURL != nil && *incoming.EmbedURL != "" {
		merged.EmbedURL = incoming.EmbedURL
	}
	if incoming.Views != 0 {
		merged.Views = incoming.Views
	}
	if incoming.Likes != 0 {
		merged.Likes = incoming.Likes
	}
	if incoming.CommentCount != 0 {
		merged.CommentCount = incoming.CommentCount
	}
	if incoming.Shares != 0 {
		merged.Shares = incoming.Shares
	}
	if incoming.PublishedAt != nil {
		merged.PublishedAt = incoming.PublishedAt
	}

	return &merged
}
