// Package platform abstracts one unified contract over the concrete remote
// comment APIs. Each adapter normalizes its upstream shape into RemotePost
// and RemoteCommentThread; the reconciliation policy lives in the sync
// engine, not here.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/replydesk/pkg/models"
)

// RemotePost is one video/media item as reported by the upstream API.
type RemotePost struct {
	ExternalID   string
	Title        string
	ThumbnailURL string
	EmbedURL     string
	Views        int64
	Likes        int64
	CommentCount int64
	Shares       int64
	PublishedAt  time.Time
}

// RemoteComment is one comment or reply as reported by the upstream API.
type RemoteComment struct {
	ExternalID  string
	AuthorID    string
	AuthorName  string
	Text        string
	PublishedAt time.Time

	// ReplyCount is the upstream-reported reply total for a top-level
	// comment. It can exceed len(thread.Replies) when the upstream
	// truncates the nested list.
	ReplyCount int64
}

// RemoteCommentThread carries a top-level comment plus zero or more nested
// replies, each reply tagged with its true author identifier.
type RemoteCommentThread struct {
	TopLevel RemoteComment
	Replies  []RemoteComment
}

// AlreadyReplied reports whether the upstream already has at least one reply
// under the top-level comment.
func (t *RemoteCommentThread) AlreadyReplied() bool {
	return t.TopLevel.ReplyCount > 0 || len(t.Replies) > 0
}

// Client is the unified contract over one remote platform API.
type Client interface {
	Platform() models.Platform

	// FetchRecentPosts returns up to limit of the account's most recent posts.
	FetchRecentPosts(ctx context.Context, account *models.Account, limit int) ([]RemotePost, error)

	// FetchCommentThreads returns up to limit comment threads for one post.
	FetchCommentThreads(ctx context.Context, account *models.Account, postExternalID string, limit int) ([]RemoteCommentThread, error)

	// PostReply publishes text as a reply to the given upstream comment.
	PostReply(ctx context.Context, account *models.Account, parentExternalID, text string) error
}

// Registry dispatches accounts to the adapter for their platform.
type Registry struct {
	clients map[models.Platform]Client
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[models.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// ForAccount returns the adapter for the account's platform.
func (r *Registry) ForAccount(account *models.Account) (Client, error) {
	c, ok := r.clients[account.Platform]
	if !ok {
		return nil, fmt.Errorf("no platform client registered for %q", account.Platform)
	}
	return c, nil
}

// APIError is a non-2xx response from an upstream platform API.
type APIError struct {
	Platform models.Platform
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.Status, e.Body)
}

// StatusCode satisfies retry.StatusCoder so rate-limit responses are
// recognized by the backoff logic.
func (e *APIError) StatusCode() int {
	return e.Status
}

// newHTTPClient is shared by the adapters.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
