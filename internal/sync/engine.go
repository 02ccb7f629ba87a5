// Package sync reconciles one account's upstream posts and comments against
// the store. This is the system's state machine: it decides which comments
// need an AI draft, which are already-handled history, and which nested
// replies staff must triage.
package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/draft"
	"github.com/replydesk/internal/logging"
	"github.com/replydesk/internal/platform"
	"github.com/replydesk/internal/store"
	"github.com/replydesk/pkg/models"
)

// Defaults for the bounded fetches per sync pass.
const (
	DefaultPostLimit   = 10
	DefaultThreadLimit = 20
)

// Drafter produces an intent classification and suggested reply. It never
// returns an error; failures degrade to a fallback result.
type Drafter interface {
	Draft(ctx context.Context, text, platformName string) draft.Result
}

// Notifier fans out notifications for qualifying intents.
type Notifier interface {
	NotifyIfQualifying(ctx context.Context, message *models.Message, intent string, accountID int64, postExternalID string)
}

// ClientResolver maps an account to its platform adapter.
type ClientResolver interface {
	ForAccount(account *models.Account) (platform.Client, error)
}

// Options tune a single sync run.
type Options struct {
	// SuppressDrafting skips the AI call for newly discovered comments.
	SuppressDrafting bool
}

// Engine orchestrates sync runs. Multiple accounts may sync concurrently;
// within one run all upstream calls are sequential to respect pagination
// and rate limits.
type Engine struct {
	store       store.Store
	clients     ClientResolver
	drafter     Drafter
	notifier    Notifier
	postLimit   int
	threadLimit int
}

// NewEngine wires the engine's collaborators with default fetch bounds.
func NewEngine(s store.Store, clients ClientResolver, drafter Drafter, notifier Notifier) *Engine {
	return &Engine{
		store:       s,
		clients:     clients,
		drafter:     drafter,
		notifier:    notifier,
		postLimit:   DefaultPostLimit,
		threadLimit: DefaultThreadLimit,
	}
}

// SetLimits overrides the bounded fetch sizes.
func (e *Engine) SetLimits(postLimit, threadLimit int) {
	if postLimit > 0 {
		e.postLimit = postLimit
	}
	if threadLimit > 0 {
		e.threadLimit = threadLimit
	}
}

// Sync runs a full reconciliation pass for one account and returns the
// number of newly created message rows.
func (e *Engine) Sync(ctx context.Context, account *models.Account) (int, error) {
	return e.SyncWithOptions(ctx, account, Options{})
}

// SyncWithOptions is Sync with per-run options. Per-unit upstream failures
// are logged and skipped; only failures before any fetch begins propagate.
func (e *Engine) SyncWithOptions(ctx context.Context, account *models.Account, opts Options) (int, error) {
	if !account.IsActive {
		return 0, fmt.Errorf("account %d is not active", account.ID)
	}
	client, err := e.clients.ForAccount(account)
	if err != nil {
		return 0, err
	}

	runLog, logErr := logging.StartSyncLogging(strconv.FormatInt(account.ID, 10))
	if logErr != nil {
		log.Warn().Err(logErr).Msg("Could not open sync run log, continuing without it")
	}
	defer runLog.Close()
	runLog.LogSection(fmt.Sprintf("Sync account %d (%s / %s)", account.ID, account.Platform, account.DisplayName))

	posts, err := client.FetchRecentPosts(ctx, account, e.postLimit)
	if err != nil {
		// Structural error: the account sync degrades to a zero count
		// rather than surfacing an exception to the caller.
		log.Error().Err(err).Int64("account_id", account.ID).Msg("Failed to fetch recent posts")
		runLog.LogError("fetch posts", err)
		return 0, nil
	}
	runLog.Log("Fetched %d recent posts", len(posts))

	newCount := 0
	for _, remote := range posts {
		stored, err := e.store.UpsertPost(ctx, e.toPost(account, remote))
		if err != nil {
			log.Error().Err(err).Str("post", remote.ExternalID).Msg("Failed to upsert post, skipping")
			runLog.LogError("upsert post "+remote.ExternalID, err)
			continue
		}

		threads, err := client.FetchCommentThreads(ctx, account, remote.ExternalID, e.threadLimit)
		if err != nil {
			log.Warn().Err(err).Str("post", remote.ExternalID).Msg("Failed to fetch comment threads, skipping post")
			runLog.LogError("fetch threads for "+remote.ExternalID, err)
			continue
		}
		runLog.Log("Post %s: %d comment threads", remote.ExternalID, len(threads))

		for i := range threads {
			created, err := e.reconcileThread(ctx, account, stored, &threads[i], opts, runLog)
			if err != nil {
				log.Warn().Err(err).
					Str("comment", threads[i].TopLevel.ExternalID).
					Msg("Failed to reconcile thread, skipping")
				runLog.LogError("reconcile thread "+threads[i].TopLevel.ExternalID, err)
				continue
			}
			newCount += created
		}
	}

	runLog.Log("Sync complete: %d new records", newCount)
	return newCount, nil
}

// reconcileThread resolves the top-level comment first, then its replies, so
// replies always reference an existing parent row.
func (e *Engine) reconcileThread(ctx context.Context, account *models.Account, post *models.Post, thread *platform.RemoteCommentThread, opts Options, runLog *logging.SyncLogger) (int, error) {
	created := 0

	parent, err := e.store.FindMessageByExternalID(ctx, thread.TopLevel.ExternalID)
	if err != nil {
		return 0, err
	}

	if parent == nil {
		var wasCreated bool
		parent, wasCreated, err = e.createTopLevel(ctx, account, post, thread, opts, runLog)
		if err != nil {
			return 0, err
		}
		if wasCreated {
			created++
		}
	}

	for i := range thread.Replies {
		wasCreated, err := e.reconcileReply(ctx, account, post, parent, &thread.Replies[i])
		if err != nil {
			log.Warn().Err(err).
				Str("reply", thread.Replies[i].ExternalID).
				Msg("Failed to reconcile reply, skipping")
			runLog.LogError("reconcile reply "+thread.Replies[i].ExternalID, err)
			continue
		}
		if wasCreated {
			created++
		}
	}
	return created, nil
}

// createTopLevel persists a newly discovered top-level comment. A comment
// the team already answered upstream is recorded as handled history: status
// posted, no draft, no notification. Drafting cost is only spent on comments
// that actually need a reply.
func (e *Engine) createTopLevel(ctx context.Context, account *models.Account, post *models.Post, thread *platform.RemoteCommentThread, opts Options, runLog *logging.SyncLogger) (*models.Message, bool, error) {
	top := thread.TopLevel
	msg := e.baseMessage(account, post, &top)

	alreadyReplied := thread.AlreadyReplied()
	intentProduced := ""

	if alreadyReplied {
		msg.Status = models.StatusPosted
		approvedBy := models.ApprovedBySynced
		msg.ApprovedBy = &approvedBy
		postedAt := top.PublishedAt
		msg.PostedAt = &postedAt
	} else {
		msg.Status = models.StatusPending
		if !opts.SuppressDrafting {
			result := e.drafter.Draft(ctx, top.Text, string(account.Platform))
			msg.Intent = &result.Intent
			if result.Reply != "" {
				msg.DraftReply = &result.Reply
			}
			intentProduced = result.Intent
			runLog.Log("Drafted comment %s: intent=%s", top.ExternalID, result.Intent)
		}
	}

	stored, wasCreated, err := e.store.FindOrCreateMessage(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if !wasCreated {
		// A concurrent sync won the race; treat as pre-existing.
		return stored, false, nil
	}

	if intentProduced != "" && !alreadyReplied {
		e.notifier.NotifyIfQualifying(ctx, stored, intentProduced, account.ID, post.ExternalID)
	}
	return stored, true, nil
}

// reconcileReply find-or-creates one nested reply. Replies authored by the
// connected account itself are historical answers; anything else is a third
// party continuing the thread and needs staff triage.
func (e *Engine) reconcileReply(ctx context.Context, account *models.Account, post *models.Post, parent *models.Message, reply *platform.RemoteComment) (bool, error) {
	msg := e.baseMessage(account, post, reply)
	msg.ThreadID = parent.ThreadID
	if msg.ThreadID == 0 {
		msg.ThreadID = parent.ID
	}
	msg.ParentID = &parent.ID

	if e.isOwnReply(account, reply) {
		msg.Status = models.StatusPosted
		approvedBy := models.ApprovedByChannelOwner
		msg.ApprovedBy = &approvedBy
		postedAt := reply.PublishedAt
		msg.PostedAt = &postedAt
	} else {
		msg.Status = models.StatusPending
		intent := models.IntentPendingThread
		msg.Intent = &intent
		msg.NeedsTriage = true
	}

	_, wasCreated, err := e.store.FindOrCreateMessage(ctx, msg)
	if err != nil {
		return false, err
	}
	return wasCreated, nil
}

// isOwnReply compares the reply author against the account's own identity.
func (e *Engine) isOwnReply(account *models.Account, reply *platform.RemoteComment) bool {
	if reply.AuthorID != "" && reply.AuthorID == account.ExternalID {
		return true
	}
	return reply.AuthorName != "" && reply.AuthorName == account.DisplayName
}

func (e *Engine) baseMessage(account *models.Account, post *models.Post, comment *platform.RemoteComment) *models.Message {
	return &models.Message{
		Platform:       account.Platform,
		AccountID:      account.ID,
		ExternalID:     comment.ExternalID,
		PostExternalID: post.ExternalID,
		PostTitle:      post.Title,
		MediaURL:       post.ThumbnailURL,
		AuthorID:       comment.AuthorID,
		AuthorName:     comment.AuthorName,
		Content:        comment.Text,
		PublishedAt:    comment.PublishedAt,
	}
}

func (e *Engine) toPost(account *models.Account, remote platform.RemotePost) *models.Post {
	post := &models.Post{
		AccountID:    account.ID,
		Platform:     account.Platform,
		ExternalID:   remote.ExternalID,
		Views:        remote.Views,
		Likes:        remote.Likes,
		CommentCount: remote.CommentCount,
		Shares:       remote.Shares,
	}
	if remote.Title != "" {
		post.Title = &remote.Title
	}
	if remote.ThumbnailURL != "" {
		post.ThumbnailURL = &remote.ThumbnailURL
	}
	if remote.EmbedURL != "" {
		post.EmbedURL = &remote.EmbedURL
	}
	if !remote.PublishedAt.IsZero() {
		publishedAt := remote.PublishedAt
		post.PublishedAt = &publishedAt
	}
	return post
}

// DraftMessage re-runs draft generation for one stored message. Used by
// batch drafting jobs.
func (e *Engine) DraftMessage(ctx context.Context, messageID int64) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	result := e.drafter.Draft(ctx, msg.Content, string(msg.Platform))
	return e.store.UpdateMessageDraft(ctx, msg.ID, result.Intent, result.Reply)
}

// ApproveAndPost relays a message's stored draft to the upstream platform
// and records the approval.
func (e *Engine) ApproveAndPost(ctx context.Context, messageID int64, approvedBy string) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Status == models.StatusPosted {
		return fmt.Errorf("message %d is already posted", messageID)
	}
	if msg.DraftReply == nil || *msg.DraftReply == "" {
		return fmt.Errorf("message %d has no draft reply to post", messageID)
	}

	account, err := e.store.GetAccount(ctx, msg.AccountID)
	if err != nil {
		return err
	}
	client, err := e.clients.ForAccount(account)
	if err != nil {
		return err
	}
	if err := client.PostReply(ctx, account, msg.ExternalID, *msg.DraftReply); err != nil {
		return fmt.Errorf("relay reply upstream: %w", err)
	}
	return e.store.MarkMessagePosted(ctx, msg.ID, approvedBy)
}
