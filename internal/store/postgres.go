package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/replydesk/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store on a Postgres database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and verifies it with a ping.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (used by tests).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := `
		SELECT id, platform, external_id, display_name, access_token, refresh_token, is_active, created_at, updated_at
		FROM accounts WHERE id = $1
	`
	a := &models.Account{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Platform, &a.ExternalID, &a.DisplayName,
		&a.AccessToken, &a.RefreshToken, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	query := `
		SELECT id, platform, external_id, display_name, access_token, refresh_token, is_active, created_at, updated_at
		FROM accounts WHERE is_active ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]models.Account, 0)
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID, &a.Platform, &a.ExternalID, &a.DisplayName,
			&a.AccessToken, &a.RefreshToken, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpsertPost inserts the post, or merges fresher fields over the existing
// row. The insert path uses ON CONFLICT DO NOTHING so two racing syncs
// cannot duplicate a (platform, external_id) pair; the loser falls through
// to the merge path.
func (s *PostgresStore) UpsertPost(ctx context.Context, post *models.Post) (*models.Post, error) {
	insert := `
		INSERT INTO posts (account_id, platform, external_id, title, thumbnail_url, embed_url,
		                   views, likes, comment_count, shares, published_at, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (platform, external_id) DO NOTHING
		RETURNING id, last_synced_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		post.AccountID, post.Platform, post.ExternalID, post.Title, post.ThumbnailURL, post.EmbedURL,
		post.Views, post.Likes, post.CommentCount, post.Shares, post.PublishedAt,
	).Scan(&post.ID, &post.LastSyncedAt)
	if err == nil {
		return post, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert post: %w", err)
	}

	// Row already exists: merge under a row lock.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	existing := &models.Post{}
	sel := `
		SELECT id, account_id, platform, external_id, title, thumbnail_url, embed_url,
		       views, likes, comment_count, shares, published_at, last_synced_at
		FROM posts WHERE platform = $1 AND external_id = $2
		FOR UPDATE
	`
	if err := tx.QueryRowContext(ctx, sel, post.Platform, post.ExternalID).Scan(
		&existing.ID, &existing.AccountID, &existing.Platform, &existing.ExternalID,
		&existing.Title, &existing.ThumbnailURL, &existing.EmbedURL,
		&existing.Views, &existing.Likes, &existing.CommentCount, &existing.Shares,
		&existing.PublishedAt, &existing.LastSyncedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to load existing post: %w", err)
	}

	merged := MergePost(existing, post)
	update := `
		UPDATE posts
		SET title = $1, thumbnail_url = $2, embed_url = $3,
		    views = $4, likes = $5, comment_count = $6, shares = $7,
		    published_at = $8, last_synced_at = NOW()
		WHERE id = $9
	`
	if _, err := tx.ExecContext(ctx, update,
		merged.Title, merged.ThumbnailURL, merged.EmbedURL,
		merged.Views, merged.Likes, merged.CommentCount, merged.Shares,
		merged.PublishedAt, merged.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit post upsert: %w", err)
	}
	merged.LastSyncedAt = time.Now()
	return merged, nil
}

const messageColumns = `
	id, platform, account_id, external_id, thread_id, parent_id,
	post_external_id, post_title, media_url, author_id, author_name, content,
	intent, draft_reply, needs_triage, status, approved_by, approved_at,
	posted_at, important, assigned_to, notes, published_at, created_at
`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	m := &models.Message{}
	var threadID sql.NullInt64
	err := row.Scan(
		&m.ID, &m.Platform, &m.AccountID, &m.ExternalID, &threadID, &m.ParentID,
		&m.PostExternalID, &m.PostTitle, &m.MediaURL, &m.AuthorID, &m.AuthorName, &m.Content,
		&m.Intent, &m.DraftReply, &m.NeedsTriage, &m.Status, &m.ApprovedBy, &m.ApprovedAt,
		&m.PostedAt, &m.Important, &m.AssignedTo, &m.Notes, &m.PublishedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ThreadID = threadID.Int64
	return m, nil
}

func (s *PostgresStore) FindMessageByExternalID(ctx context.Context, externalID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE external_id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by external id: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// insertMessage inserts with ON CONFLICT DO NOTHING on the external id
// unique constraint. Returns false when the row already existed.
func (s *PostgresStore) insertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	insert := `
		INSERT INTO messages (platform, account_id, external_id, thread_id, parent_id,
		                      post_external_id, post_title, media_url, author_id, author_name, content,
		                      intent, draft_reply, needs_triage, status, approved_by, approved_at,
		                      posted_at, important, assigned_to, notes, published_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		msg.Platform, msg.AccountID, msg.ExternalID, msg.ThreadID, msg.ParentID,
		msg.PostExternalID, msg.PostTitle, msg.MediaURL, msg.AuthorID, msg.AuthorName, msg.Content,
		msg.Intent, msg.DraftReply, msg.NeedsTriage, msg.Status, msg.ApprovedBy, msg.ApprovedAt,
		msg.PostedAt, msg.Important, msg.AssignedTo, msg.Notes, msg.PublishedAt,
	).Scan(&msg.ID, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	// A top-level message is its own thread root.
	if msg.ThreadID == 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE messages SET thread_id = id WHERE id = $1`, msg.ID); err != nil {
			return false, fmt.Errorf("failed to set thread id: %w", err)
		}
		msg.ThreadID = msg.ID
	}
	return true, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	created, err := s.insertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("message with external id %s already exists", msg.ExternalID)
	}
	return msg, nil
}

func (s *PostgresStore) FindOrCreateMessage(ctx context.Context, msg *models.Message) (*models.Message, bool, error) {
	created, err := s.insertMessage(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if created {
		return msg, true, nil
	}
	existing, err := s.FindMessageByExternalID(ctx, msg.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The conflicting row vanished between insert and select; retry
		// would succeed but the caller treats this as a per-unit failure.
		return nil, false, fmt.Errorf("message %s conflicted but was not found", msg.ExternalID)
	}
	return existing, false, nil
}

func (s *PostgresStore) ListMessagesByStatus(ctx context.Context, accountID int64, status models.MessageStatus, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + messageColumns + `
		FROM messages WHERE account_id = $1 AND status = $2
		ORDER BY published_at DESC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, accountID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) UpdateMessageDraft(ctx context.Context, id int64, intent, reply string) error {
	query := `UPDATE messages SET intent = $1, draft_reply = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, intent, reply, id)
	if err != nil {
		return fmt.Errorf("failed to update message draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d not found", id)
	}
	return nil
}

func (s *PostgresStore) MarkMessagePosted(ctx context.Context, id int64, approvedBy string) error {
	query := `
		UPDATE messages
		SET status = $1, approved_by = $2, approved_at = NOW(), posted_at = NOW()
		WHERE id = $3
	`
	res, err := s.db.ExecContext(ctx, query, models.StatusPosted, approvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to mark message posted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, message_id, account_id, post_external_id, intent, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		n.UserID, n.MessageID, n.AccountID, n.PostExternalID, n.Intent, n.Content,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}
