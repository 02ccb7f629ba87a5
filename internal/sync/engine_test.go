package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/internal/draft"
	"github.com/replydesk/internal/platform"
	"github.com/replydesk/pkg/models"
)

// fakeStore is an in-memory Store covering what the engine touches.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*models.Account
	posts    map[string]*models.Post
	messages map[string]*models.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:   1,
		accounts: make(map[int64]*models.Account),
		posts:    make(map[string]*models.Post),
		messages: make(map[string]*models.Message),
	}
}

func (s *fakeStore) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d not found", id)
	}
	return a, nil
}

func (s *fakeStore) ListActiveAccounts(context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertPost(_ context.Context, post *models.Post) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.posts[post.ExternalID]; ok {
		return existing, nil
	}
	stored := *post
	stored.ID = s.nextID
	s.nextID++
	s.posts[post.ExternalID] = &stored
	return &stored, nil
}

func (s *fakeStore) FindMessageByExternalID(_ context.Context, externalID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[externalID]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(msg), nil
}

func (s *fakeStore) FindOrCreateMessage(_ context.Context, msg *models.Message) (*models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.messages[msg.ExternalID]; ok {
		copied := *existing
		return &copied, false, nil
	}
	return s.insertLocked(msg), true, nil
}

func (s *fakeStore) insertLocked(msg *models.Message) *models.Message {
	stored := *msg
	stored.ID = s.nextID
	s.nextID++
	if stored.ThreadID == 0 {
		stored.ThreadID = stored.ID
	}
	stored.CreatedAt = time.Now()
	s.messages[stored.ExternalID] = &stored
	copied := stored
	return &copied
}

func (s *fakeStore) GetMessage(_ context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			copied := *m
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("message %d not found", id)
}

func (s *fakeStore) ListMessagesByStatus(_ context.Context, accountID int64, status models.MessageStatus, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.AccountID == accountID && m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateMessageDraft(_ context.Context, id int64, intent, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			m.Intent = &intent
			m.DraftReply = &reply
			return nil
		}
	}
	return fmt.Errorf("message %d not found", id)
}

func (s *fakeStore) MarkMessagePosted(_ context.Context, id int64, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			now := time.Now()
			m.Status = models.StatusPosted
			m.ApprovedBy = &approvedBy
			m.ApprovedAt = &now
			m.PostedAt = &now
			return nil
		}
	}
	return fmt.Errorf("message %d not found", id)
}

func (s *fakeStore) ListUsers(context.Context) ([]models.User, error) { return nil, nil }

func (s *fakeStore) CreateNotification(context.Context, *models.Notification) error { return nil }

func (s *fakeStore) messageByExternalID(t *testing.T, externalID string) *models.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[externalID]
	require.True(t, ok, "expected message %s in store", externalID)
	copied := *m
	return &copied
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeClient serves canned posts and threads and records posted replies.
type fakeClient struct {
	platform     models.Platform
	posts        []platform.RemotePost
	threads      map[string][]platform.RemoteCommentThread
	postsErr     error
	threadErrFor map[string]error
	replyErr     error

	mu      sync.Mutex
	replies []string
}

func (c *fakeClient) Platform() models.Platform { return c.platform }

func (c *fakeClient) FetchRecentPosts(_ context.Context, _ *models.Account, limit int) ([]platform.RemotePost, error) {
	if c.postsErr != nil {
		return nil, c.postsErr
	}
	if len(c.posts) > limit {
		return c.posts[:limit], nil
	}
	return c.posts, nil
}

func (c *fakeClient) FetchCommentThreads(_ context.Context, _ *models.Account, postExternalID string, _ int) ([]platform.RemoteCommentThread, error) {
	if err, ok := c.threadErrFor[postExternalID]; ok {
		return nil, err
	}
	return c.threads[postExternalID], nil
}

func (c *fakeClient) PostReply(_ context.Context, _ *models.Account, parentExternalID, text string) error {
	if c.replyErr != nil {
		return c.replyErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, parentExternalID+": "+text)
	return nil
}

// fakeDrafter returns a fixed result and counts invocations.
type fakeDrafter struct {
	mu     sync.Mutex
	calls  int
	result draft.Result
}

func (d *fakeDrafter) Draft(context.Context, string, string) draft.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.result
}

func (d *fakeDrafter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeNotifier records every fan-out request.
type fakeNotifier struct {
	mu      sync.Mutex
	intents []string
}

func (n *fakeNotifier) NotifyIfQualifying(_ context.Context, _ *models.Message, intent string, _ int64, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, intent)
}

func (n *fakeNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.intents...)
}

func testAccount() *models.Account {
	return &models.Account{
		ID:          7,
		Platform:    models.PlatformYouTube,
		ExternalID:  "UC_owner",
		DisplayName: "Acme Studio",
		IsActive:    true,
	}
}

func newTestEngine(client *fakeClient) (*Engine, *fakeStore, *fakeDrafter, *fakeNotifier) {
	st := newFakeStore()
	st.accounts[7] = testAccount()
	drafter := &fakeDrafter{result: draft.Result{Intent: "question", Reply: "Thanks for asking!"}}
	notifier := &fakeNotifier{}
	engine := NewEngine(st, platform.NewRegistry(client), drafter, notifier)
	return engine, st, drafter, notifier
}

func singleThreadClient(thread platform.RemoteCommentThread) *fakeClient {
	return &fakeClient{
		platform: models.PlatformYouTube,
		posts: []platform.RemotePost{
			{ExternalID: "vid1", Title: "Launch video", PublishedAt: time.Now()},
		},
		threads: map[string][]platform.RemoteCommentThread{
			"vid1": {thread},
		},
	}
}

func TestSyncCreatesPendingMessageWithDraft(t *testing.T) {
	client := singleThreadClient(platform.RemoteCommentThread{
		TopLevel: platform.RemoteComment{
			ExternalID:  "c1",
			AuthorID:    "viewer1",
			AuthorName:  "Some Viewer",
			Text:        "Does this ship internationally?",
			PublishedAt: time.Now().Add(-time.Hour),
		},
	})
	engine, st, drafter, notifier := newTestEngine(client)

	count, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	msg := st.messageByExternalID(t, "c1")
	assert.Equal(t, models.StatusPending, msg.Status)
	require.NotNil(t, msg.Intent)
	assert.Equal(t, "question", *msg.Intent)
	require.NotNil(t, msg.DraftReply)
	assert.Equal(t, "Thanks for asking!", *msg.DraftReply)
	assert.False(t, msg.NeedsTriage)
	assert.Equal(t, msg.ID, msg.ThreadID)

	assert.Equal(t, 1, drafter.callCount())
	assert.Equal(t, []string{"question"}, notifier.seen())
}

func TestSyncAlreadyRepliedSkipsDrafting(t *testing.T) {
	commentTime := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	client := singleThreadClient(platform.RemoteCommentThread{
		TopLevel: platform.RemoteComment{
			ExternalID:  "c1",
			AuthorID:    "viewer1",
			Text:        "Great video!",
			PublishedAt: commentTime,
			ReplyCount:  1,
		},
		Replies: []platform.RemoteComment{
			{
				ExternalID:  "r1",
				AuthorID:    "UC_owner",
				AuthorName:  "Acme Studio",
				Text:        "Glad you liked it!",
				PublishedAt: commentTime.Add(time.Hour),
			},
		},
	})
	engine, st, drafter, notifier := newTestEngine(client)

	count, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	top := st.messageByExternalID(t, "c1")
	assert.Equal(t, models.StatusPosted, top.Status)
	require.NotNil(t, top.ApprovedBy)
	assert.Equal(t, models.ApprovedBySynced, *top.ApprovedBy)
	require.NotNil(t, top.PostedAt)
	assert.True(t, top.PostedAt.Equal(commentTime))
	assert.Nil(t, top.DraftReply)

	reply := st.messageByExternalID(t, "r1")
	assert.Equal(t, models.StatusPosted, reply.Status)
	require.NotNil(t, reply.ApprovedBy)
	assert.Equal(t, models.ApprovedByChannelOwner, *reply.ApprovedBy)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, top.ID, *reply.ParentID)
	assert.Equal(t, top.ThreadID, reply.ThreadID)

	assert.Zero(t, drafter.callCount(), "answered comments must not consume drafting")
	assert.Empty(t, notifier.seen())
}

func TestSyncThirdPartyReplyNeedsTriage(t *testing.T) {
	client := singleThreadClient(platform.RemoteCommentThread{
		TopLevel: platform.RemoteComment{
			ExternalID:  "c1",
			AuthorID:    "viewer1",
			Text:        "Is restock planned?",
			PublishedAt: time.Now().Add(-2 * time.Hour),
			ReplyCount:  1,
		},
		Replies: []platform.RemoteComment{
			{
				ExternalID:  "r1",
				AuthorID:    "viewer2",
				AuthorName:  "Another Viewer",
				Text:        "I want to know too",
				PublishedAt: time.Now().Add(-time.Hour),
			},
		},
	})
	engine, st, _, _ := newTestEngine(client)

	count, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reply := st.messageByExternalID(t, "r1")
	assert.Equal(t, models.StatusPending, reply.Status)
	assert.True(t, reply.NeedsTriage)
	require.NotNil(t, reply.Intent)
	assert.Equal(t, models.IntentPendingThread, *reply.Intent)
	assert.Nil(t, reply.DraftReply)
}

func TestSyncIsIdempotentAcrossRuns(t *testing.T) {
	client := singleThreadClient(platform.RemoteCommentThread{
		TopLevel: platform.RemoteComment{
			ExternalID:  "c1",
			AuthorID:    "viewer1",
			Text:        "Nice!",
			PublishedAt: time.Now(),
		},
	})
	engine, st, drafter, _ := newTestEngine(client)

	first, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 0, second, "re-sync of identical upstream state must create nothing")
	assert.Equal(t, 1, st.messageCount())
	assert.Equal(t, 1, drafter.callCount(), "known comments must not be re-drafted on re-sync")
}

func TestSyncSuppressDrafting(t *testing.T) {
	client := singleThreadClient(platform.RemoteCommentThread{
		TopLevel: platform.RemoteComment{
			ExternalID:  "c1",
			AuthorID:    "viewer1",
			Text:        "Question here",
			PublishedAt: time.Now(),
		},
	})
	engine, st, drafter, notifier := newTestEngine(client)

	count, err := engine.SyncWithOptions(context.Background(), testAccount(), Options{SuppressDrafting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	msg := st.messageByExternalID(t, "c1")
	assert.Equal(t, models.StatusPending, msg.Status)
	assert.Nil(t, msg.Intent)
	assert.Nil(t, msg.DraftReply)
	assert.Zero(t, drafter.callCount())
	assert.Empty(t, notifier.seen())
}

func TestSyncPostFetchFailureReturnsZeroWithoutError(t *testing.T) {
	client := &fakeClient{
		platform: models.PlatformYouTube,
		postsErr: fmt.Errorf("upstream unavailable"),
	}
	engine, _, _, _ := newTestEngine(client)

	count, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncThreadFetchFailureIsIsolatedPerPost(t *testing.T) {
	client := &fakeClient{
		platform: models.PlatformYouTube,
		posts: []platform.RemotePost{
			{ExternalID: "vid1", Title: "Broken one"},
			{ExternalID: "vid2", Title: "Healthy one"},
		},
		threads: map[string][]platform.RemoteCommentThread{
			"vid2": {{
				TopLevel: platform.RemoteComment{
					ExternalID:  "c2",
					AuthorID:    "viewer1",
					Text:        "hello",
					PublishedAt: time.Now(),
				},
			}},
		},
		threadErrFor: map[string]error{
			"vid1": fmt.Errorf("comments disabled"),
		},
	}
	engine, st, _, _ := newTestEngine(client)

	count, err := engine.Sync(context.Background(), testAccount())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, st.messageCount())
}

func TestSyncRejectsInactiveAccount(t *testing.T) {
	engine, _, _, _ := newTestEngine(&fakeClient{platform: models.PlatformYouTube})
	account := testAccount()
	account.IsActive = false

	_, err := engine.Sync(context.Background(), account)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestDraftMessageUpdatesStoredRow(t *testing.T) {
	engine, st, drafter, _ := newTestEngine(&fakeClient{platform: models.PlatformYouTube})
	drafter.result = draft.Result{Intent: "complaint", Reply: "Sorry about that."}

	msg, err := st.CreateMessage(context.Background(), &models.Message{
		Platform:   models.PlatformYouTube,
		AccountID:  7,
		ExternalID: "c1",
		Content:    "This arrived broken",
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	require.NoError(t, engine.DraftMessage(context.Background(), msg.ID))

	updated := st.messageByExternalID(t, "c1")
	require.NotNil(t, updated.Intent)
	assert.Equal(t, "complaint", *updated.Intent)
	require.NotNil(t, updated.DraftReply)
	assert.Equal(t, "Sorry about that.", *updated.DraftReply)
}

func TestApproveAndPostRelaysDraftUpstream(t *testing.T) {
	client := &fakeClient{platform: models.PlatformYouTube}
	engine, st, _, _ := newTestEngine(client)

	reply := "Thanks, we ship worldwide."
	msg, err := st.CreateMessage(context.Background(), &models.Message{
		Platform:   models.PlatformYouTube,
		AccountID:  7,
		ExternalID: "c1",
		Content:    "Do you ship to EU?",
		Status:     models.StatusApproved,
		DraftReply: &reply,
	})
	require.NoError(t, err)

	require.NoError(t, engine.ApproveAndPost(context.Background(), msg.ID, "moderator@acme"))

	assert.Equal(t, []string{"c1: Thanks, we ship worldwide."}, client.replies)
	updated := st.messageByExternalID(t, "c1")
	assert.Equal(t, models.StatusPosted, updated.Status)
	require.NotNil(t, updated.ApprovedBy)
	assert.Equal(t, "moderator@acme", *updated.ApprovedBy)
}

func TestApproveAndPostRejectsMissingDraft(t *testing.T) {
	engine, st, _, _ := newTestEngine(&fakeClient{platform: models.PlatformYouTube})

	msg, err := st.CreateMessage(context.Background(), &models.Message{
		Platform:   models.PlatformYouTube,
		AccountID:  7,
		ExternalID: "c1",
		Content:    "no draft yet",
		Status:     models.StatusPending,
	})
	require.NoError(t, err)

	err = engine.ApproveAndPost(context.Background(), msg.ID, "moderator@acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no draft reply")
}

func TestApproveAndPostRejectsAlreadyPosted(t *testing.T) {
	engine, st, _, _ := newTestEngine(&fakeClient{platform: models.PlatformYouTube})

	reply := "done"
	msg, err := st.CreateMessage(context.Background(), &models.Message{
		Platform:   models.PlatformYouTube,
		AccountID:  7,
		ExternalID: "c1",
		Content:    "already handled",
		Status:     models.StatusPosted,
		DraftReply: &reply,
	})
	require.NoError(t, err)

	err = engine.ApproveAndPost(context.Background(), msg.ID, "moderator@acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already posted")
}
