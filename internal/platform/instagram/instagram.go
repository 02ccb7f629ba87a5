// Package instagram adapts the Instagram Graph API to the unified platform
// contract. Unlike YouTube, the comments endpoint returns flat top-level
// threads only; replies require a second paginated call per comment.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/replydesk/internal/platform"
	"github.com/replydesk/pkg/models"
)

const defaultBaseURL = "https://graph.instagram.com/v21.0"

// Client implements platform.Client for Instagram.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewClient returns an Instagram client with the default Graph API endpoint.
func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 2),
		baseURL: defaultBaseURL,
	}
}

// NewClientWithBaseURL is used by tests to point at a stub server.
func NewClientWithBaseURL(baseURL string, httpClient *http.Client) *Client {
	c := NewClient()
	c.baseURL = strings.TrimRight(baseURL, "/")
	if httpClient != nil {
		c.http = httpClient
	}
	return c
}

func (c *Client) Platform() models.Platform {
	return models.PlatformInstagram
}

type mediaListResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Caption       string `json:"caption"`
		MediaURL      string `json:"media_url"`
		ThumbnailURL  string `json:"thumbnail_url"`
		Permalink     string `json:"permalink"`
		Timestamp     string `json:"timestamp"`
		LikeCount     int64  `json:"like_count"`
		CommentsCount int64  `json:"comments_count"`
	} `json:"data"`
}

type graphComment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	From      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

type commentListResponse struct {
	Data []graphComment `json:"data"`
}

// FetchRecentPosts lists the account's recent media with engagement counters.
func (c *Client) FetchRecentPosts(ctx context.Context, account *models.Account, limit int) ([]platform.RemotePost, error) {
	var media mediaListResponse
	q := url.Values{}
	q.Set("fields", "id,caption,media_url,thumbnail_url,permalink,timestamp,like_count,comments_count")
	q.Set("limit", strconv.Itoa(limit))
	if err := c.getJSON(ctx, account, "/me/media", q, &media); err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}

	posts := make([]platform.RemotePost, 0, len(media.Data))
	for _, m := range media.Data {
		thumb := m.ThumbnailURL
		if thumb == "" {
			thumb = m.MediaURL
		}
		posts = append(posts, platform.RemotePost{
			ExternalID:   m.ID,
			Title:        m.Caption,
			ThumbnailURL: thumb,
			EmbedURL:     m.Permalink,
			Likes:        m.LikeCount,
			CommentCount: m.CommentsCount,
			PublishedAt:  parseTime(m.Timestamp),
		})
	}
	return posts, nil
}

// FetchCommentThreads lists top-level comments for one media item and makes a
// second call per comment to collect its replies. A failed replies call only
// degrades that one thread; the others are still returned.
func (c *Client) FetchCommentThreads(ctx context.Context, account *models.Account, postExternalID string, limit int) ([]platform.RemoteCommentThread, error) {
	var comments commentListResponse
	q := url.Values{}
	q.Set("fields", "id,text,username,timestamp,from")
	q.Set("limit", strconv.Itoa(limit))
	if err := c.getJSON(ctx, account, "/"+postExternalID+"/comments", q, &comments); err != nil {
		return nil, fmt.Errorf("fetch comments for media %s: %w", postExternalID, err)
	}

	threads := make([]platform.RemoteCommentThread, 0, len(comments.Data))
	for _, top := range comments.Data {
		thread := platform.RemoteCommentThread{TopLevel: toRemoteComment(top)}

		var replies commentListResponse
		rq := url.Values{}
		rq.Set("fields", "id,text,username,timestamp,from")
		if err := c.getJSON(ctx, account, "/"+top.ID+"/replies", rq, &replies); err != nil {
			log.Warn().
				Err(err).
				Str("comment_id", top.ID).
				Str("media_id", postExternalID).
				Msg("Failed to fetch replies, keeping thread without them")
		} else {
			for _, r := range replies.Data {
				thread.Replies = append(thread.Replies, toRemoteComment(r))
			}
			thread.TopLevel.ReplyCount = int64(len(thread.Replies))
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

// PostReply publishes a reply under the given comment.
func (c *Client) PostReply(ctx context.Context, account *models.Account, parentExternalID, text string) error {
	q := url.Values{}
	q.Set("message", text)
	if err := c.doJSON(ctx, account, http.MethodPost, "/"+parentExternalID+"/replies", q, nil); err != nil {
		return fmt.Errorf("post reply to comment %s: %w", parentExternalID, err)
	}
	return nil
}

func toRemoteComment(g graphComment) platform.RemoteComment {
	authorID := g.From.ID
	authorName := g.From.Username
	if authorName == "" {
		authorName = g.Username
	}
	return platform.RemoteComment{
		ExternalID:  g.ID,
		AuthorID:    authorID,
		AuthorName:  authorName,
		Text:        g.Text,
		PublishedAt: parseTime(g.Timestamp),
	}
}

func (c *Client) getJSON(ctx context.Context, account *models.Account, path string, q url.Values, out any) error {
	return c.doJSON(ctx, account, http.MethodGet, path, q, out)
}

func (c *Client) doJSON(ctx context.Context, account *models.Account, method, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q.Set("access_token", account.AccessToken)
	fullURL := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &platform.APIError{
			Platform: models.PlatformInstagram,
			Status:   resp.StatusCode,
			Body:     truncate(string(raw), 600),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Instagram timestamps use an RFC3339 variant without a colon in the zone
// offset (2024-05-01T12:00:00+0000).
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	log.Debug().Str("value", s).Msg("Unparseable timestamp from Instagram API")
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
