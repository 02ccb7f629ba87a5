// Package syncqueue runs durable account-sync requests through a River job
// queue backed by Postgres. Queued syncs survive restarts and retry with
// backoff, unlike the in-process batch draft jobs which are ephemeral by
// design.
package syncqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/store"
	"github.com/replydesk/pkg/models"
)

// SyncJobArgs requests a full sync pass for one account.
type SyncJobArgs struct {
	AccountID int64 `json:"account_id"`
}

// Kind returns the job kind for River.
func (SyncJobArgs) Kind() string { return "account_sync" }

// InsertOpts caps retries and dedupes pending syncs for the same account.
func (SyncJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 5,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Syncer runs one reconciliation pass and reports how many records it created.
type Syncer interface {
	Sync(ctx context.Context, account *models.Account) (int, error)
}

// SyncWorker executes queued account syncs.
type SyncWorker struct {
	river.WorkerDefaults[SyncJobArgs]
	store  store.Store
	engine Syncer
}

// Work loads the account and runs the sync engine against it.
func (w *SyncWorker) Work(ctx context.Context, job *river.Job[SyncJobArgs]) error {
	account, err := w.store.GetAccount(ctx, job.Args.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", job.Args.AccountID, err)
	}

	count, err := w.engine.Sync(ctx, account)
	if err != nil {
		return fmt.Errorf("sync account %d: %w", account.ID, err)
	}

	log.Info().
		Int64("account_id", account.ID).
		Str("platform", string(account.Platform)).
		Int("new_records", count).
		Msg("Queued account sync finished")
	return nil
}

// Queue manages the River client and its worker pool.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// NewQueue builds a queue on its own pgx pool. The caller owns lifecycle via
// Start/Stop.
func NewQueue(ctx context.Context, databaseURL string, s store.Store, engine Syncer, maxWorkers int) (*Queue, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SyncWorker{store: s, engine: engine})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}

	return &Queue{client: client, pool: pool}, nil
}

// Start begins working queued jobs.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop drains workers and closes the pool.
func (q *Queue) Stop(ctx context.Context) error {
	err := q.client.Stop(ctx)
	q.pool.Close()
	return err
}

// EnqueueAccountSync queues a durable sync request for one account.
func (q *Queue) EnqueueAccountSync(ctx context.Context, accountID int64) error {
	_, err := q.client.Insert(ctx, SyncJobArgs{AccountID: accountID}, nil)
	if err != nil {
		return fmt.Errorf("queue account sync for %d: %w", accountID, err)
	}
	return nil
}
