// Package youtube adapts the YouTube Data API v3 to the unified platform
// contract. Comment threads arrive with their replies nested in the same
// response, so no second call is needed per thread.
package youtube

import (
	"bytes"
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

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Client implements platform.Client for YouTube.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewClient returns a YouTube client with the default API endpoint.
func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(3, 3),
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
	return models.PlatformYouTube
}

type channelListResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Thumbnails  struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type commentSnippet struct {
	AuthorDisplayName string `json:"authorDisplayName"`
	AuthorChannelID   struct {
		Value string `json:"value"`
	} `json:"authorChannelId"`
	TextDisplay string `json:"textDisplay"`
	PublishedAt string `json:"publishedAt"`
	ParentID    string `json:"parentId"`
}

type comment struct {
	ID      string         `json:"id"`
	Snippet commentSnippet `json:"snippet"`
}

type commentThreadsResponse struct {
	Items []struct {
		Snippet struct {
			TopLevelComment comment `json:"topLevelComment"`
			TotalReplyCount int64   `json:"totalReplyCount"`
		} `json:"snippet"`
		Replies struct {
			Comments []comment `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

// FetchRecentPosts resolves the account's uploads playlist, then lists recent
// videos with their statistics snapshot.
func (c *Client) FetchRecentPosts(ctx context.Context, account *models.Account, limit int) ([]platform.RemotePost, error) {
	var channels channelListResponse
	q := url.Values{}
	q.Set("part", "contentDetails")
	q.Set("mine", "true")
	if err := c.getJSON(ctx, account, "/channels", q, &channels); err != nil {
		return nil, fmt.Errorf("fetch channel: %w", err)
	}
	if len(channels.Items) == 0 {
		return nil, nil
	}
	uploadsID := channels.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploadsID == "" {
		return nil, nil
	}

	var playlist playlistItemsResponse
	q = url.Values{}
	q.Set("part", "contentDetails")
	q.Set("playlistId", uploadsID)
	q.Set("maxResults", strconv.Itoa(limit))
	if err := c.getJSON(ctx, account, "/playlistItems", q, &playlist); err != nil {
		return nil, fmt.Errorf("fetch uploads playlist: %w", err)
	}

	ids := make([]string, 0, len(playlist.Items))
	for _, item := range playlist.Items {
		if item.ContentDetails.VideoID != "" {
			ids = append(ids, item.ContentDetails.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var videos videoListResponse
	q = url.Values{}
	q.Set("part", "snippet,statistics")
	q.Set("id", strings.Join(ids, ","))
	if err := c.getJSON(ctx, account, "/videos", q, &videos); err != nil {
		return nil, fmt.Errorf("fetch videos: %w", err)
	}

	posts := make([]platform.RemotePost, 0, len(videos.Items))
	for _, v := range videos.Items {
		thumb := v.Snippet.Thumbnails.High.URL
		if thumb == "" {
			thumb = v.Snippet.Thumbnails.Default.URL
		}
		posts = append(posts, platform.RemotePost{
			ExternalID:   v.ID,
			Title:        v.Snippet.Title,
			ThumbnailURL: thumb,
			EmbedURL:     "https://www.youtube.com/embed/" + v.ID,
			Views:        parseCount(v.Statistics.ViewCount),
			Likes:        parseCount(v.Statistics.LikeCount),
			CommentCount: parseCount(v.Statistics.CommentCount),
			PublishedAt:  parseTime(v.Snippet.PublishedAt),
		})
	}
	return posts, nil
}

// FetchCommentThreads lists comment threads for one video. Replies come back
// nested under each thread.
func (c *Client) FetchCommentThreads(ctx context.Context, account *models.Account, postExternalID string, limit int) ([]platform.RemoteCommentThread, error) {
	var resp commentThreadsResponse
	q := url.Values{}
	q.Set("part", "snippet,replies")
	q.Set("videoId", postExternalID)
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("textFormat", "plainText")
	if err := c.getJSON(ctx, account, "/commentThreads", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch comment threads for video %s: %w", postExternalID, err)
	}

	threads := make([]platform.RemoteCommentThread, 0, len(resp.Items))
	for _, item := range resp.Items {
		thread := platform.RemoteCommentThread{
			TopLevel: toRemoteComment(item.Snippet.TopLevelComment),
		}
		thread.TopLevel.ReplyCount = item.Snippet.TotalReplyCount
		for _, r := range item.Replies.Comments {
			thread.Replies = append(thread.Replies, toRemoteComment(r))
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

// PostReply publishes a reply under the given parent comment.
func (c *Client) PostReply(ctx context.Context, account *models.Account, parentExternalID, text string) error {
	body := map[string]any{
		"snippet": map[string]any{
			"parentId":     parentExternalID,
			"textOriginal": text,
		},
	}
	q := url.Values{}
	q.Set("part", "snippet")
	if err := c.doJSON(ctx, account, http.MethodPost, "/comments", q, body, nil); err != nil {
		return fmt.Errorf("post reply to comment %s: %w", parentExternalID, err)
	}
	return nil
}

func toRemoteComment(c comment) platform.RemoteComment {
	return platform.RemoteComment{
		ExternalID:  c.ID,
		AuthorID:    c.Snippet.AuthorChannelID.Value,
		AuthorName:  c.Snippet.AuthorDisplayName,
		Text:        c.Snippet.TextDisplay,
		PublishedAt: parseTime(c.Snippet.PublishedAt),
	}
}

func (c *Client) getJSON(ctx context.Context, account *models.Account, path string, q url.Values, out any) error {
	return c.doJSON(ctx, account, http.MethodGet, path, q, nil, out)
}

func (c *Client) doJSON(ctx context.Context, account *models.Account, method, path string, q url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	fullURL := c.baseURL + path
	if len(q) > 0 {
		fullURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
			Platform: models.PlatformYouTube,
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

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Debug().Str("value", s).Msg("Unparseable timestamp from YouTube API")
		return time.Time{}
	}
	return t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
