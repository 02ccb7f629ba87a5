package models

import (
	"time"
)

// Platform identifies which external network an account or record belongs to.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformInstagram
}

// Account represents one connected external channel.
type Account struct {
	ID           int64     `json:"id" db:"id"`
	Platform     Platform  `json:"platform" db:"platform"`
	ExternalID   string    `json:"external_id" db:"external_id"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	AccessToken  string    `json:"-" db:"access_token"` // Opaque; encrypted at rest by the credentials layer
	RefreshToken string    `json:"-" db:"refresh_token"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Post represents one video/media item belonging to an Account.
// At most one Post exists per (platform, external_id); syncs upsert.
type Post struct {
	ID           int64      `json:"id" db:"id"`
	AccountID    int64      `json:"account_id" db:"account_id"`
	Platform     Platform   `json:"platform" db:"platform"`
	ExternalID   string     `json:"external_id" db:"external_id"`
	Title        *string    `json:"title,omitempty" db:"title"`
	ThumbnailURL *string    `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	EmbedURL     *string    `json:"embed_url,omitempty" db:"embed_url"`
	Views        int64      `json:"views" db:"views"`
	Likes        int64      `json:"likes" db:"likes"`
	CommentCount int64      `json:"comment_count" db:"comment_count"`
	Shares       int64      `json:"shares" db:"shares"`
	PublishedAt  *time.Time `json:"published_at,omitempty" db:"published_at"`
	LastSyncedAt time.Time  `json:"last_synced_at" db:"last_synced_at"`
}

// MessageStatus is the workflow state of a Message.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusApproved MessageStatus = "approved"
	StatusRejected MessageStatus = "rejected"
	StatusPosted   MessageStatus = "posted"
)

// Accountability markers written into Message.ApprovedBy by the sync engine.
const (
	// ApprovedBySynced marks a top-level comment that already had an
	// upstream reply when sync first discovered it.
	ApprovedBySynced = "Synced"

	// ApprovedByChannelOwner marks a nested reply authored by the
	// connected account itself (historical reply made outside this tool).
	ApprovedByChannelOwner = "Channel Owner"
)

// IntentPendingThread is the legacy sentinel written into the intent column
// for third-party nested replies that need staff triage. Policy code must
// branch on Message.NeedsTriage, not on this string.
const IntentPendingThread = "Pending Thread"

// Message represents one comment or reply pulled from an external platform.
// ExternalID is the idempotency key: a Message is created exactly once per
// external comment id no matter how many times sync runs.
type Message struct {
	ID         int64    `json:"id" db:"id"`
	Platform   Platform `json:"platform" db:"platform"`
	AccountID  int64    `json:"account_id" db:"account_id"`
	ExternalID string   `json:"external_id" db:"external_id"`

	// ThreadID is the id of the top-level message in this thread; for a
	// top-level message it equals the message's own id.
	ThreadID int64  `json:"thread_id" db:"thread_id"`
	ParentID *int64 `json:"parent_id,omitempty" db:"parent_id"`

	// Denormalized post snapshot for list views.
	PostExternalID string  `json:"post_external_id" db:"post_external_id"`
	PostTitle      *string `json:"post_title,omitempty" db:"post_title"`
	MediaURL       *string `json:"media_url,omitempty" db:"media_url"`

	AuthorID   string  `json:"author_id" db:"author_id"`
	AuthorName string  `json:"author_name" db:"author_name"`
	Content    string  `json:"content" db:"content"`
	Intent     *string `json:"intent,omitempty" db:"intent"`
	DraftReply *string `json:"draft_reply,omitempty" db:"draft_reply"`

	// NeedsTriage flags third-party replies inside an existing thread that
	// staff must look at. Kept separate from the AI intent taxonomy.
	NeedsTriage bool `json:"needs_triage" db:"needs_triage"`

	Status     MessageStatus `json:"status" db:"status"`
	ApprovedBy *string       `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	PostedAt   *time.Time    `json:"posted_at,omitempty" db:"posted_at"`

	// Moderation metadata.
	Important  bool    `json:"important" db:"important"`
	AssignedTo *string `json:"assigned_to,omitempty" db:"assigned_to"`
	Notes      *string `json:"notes,omitempty" db:"notes"`

	// PublishedAt is the comment's own creation time upstream.
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// IsTopLevel reports whether the message starts its thread.
func (m *Message) IsTopLevel() bool {
	return m.ParentID == nil
}

// Notification is a fan-out record tied to a Message with a qualifying intent.
type Notification struct {
	ID             int64      `json:"id" db:"id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	MessageID      int64      `json:"message_id" db:"message_id"`
	AccountID      int64      `json:"account_id" db:"account_id"`
	PostExternalID string     `json:"post_external_id" db:"post_external_id"`
	Intent         string     `json:"intent" db:"intent"`
	Content        string     `json:"content" db:"content"`
	ReadAt         *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// User is a staff member eligible for notification fan-out.
type User struct {
	ID          int64  `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
}
