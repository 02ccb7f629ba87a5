package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/jobs"
	"github.com/replydesk/internal/store"
	syncengine "github.com/replydesk/internal/sync"
	"github.com/replydesk/pkg/models"
)

// SyncService is the slice of the sync engine the handlers need.
type SyncService interface {
	SyncWithOptions(ctx context.Context, account *models.Account, opts syncengine.Options) (int, error)
	DraftMessage(ctx context.Context, messageID int64) error
	ApproveAndPost(ctx context.Context, messageID int64, approvedBy string) error
}

// Enqueuer queues a durable background sync. May be nil when the queue is
// not configured.
type Enqueuer interface {
	EnqueueAccountSync(ctx context.Context, accountID int64) error
}

// Handlers carries the collaborators behind the HTTP endpoints.
type Handlers struct {
	store   store.Store
	engine  SyncService
	tracker *jobs.Tracker
	queue   Enqueuer
}

// NewHandlers wires the endpoint collaborators.
func NewHandlers(s store.Store, engine SyncService, tracker *jobs.Tracker, queue Enqueuer) *Handlers {
	return &Handlers{store: s, engine: engine, tracker: tracker, queue: queue}
}

type syncResponse struct {
	AccountID   int64 `json:"account_id"`
	NewMessages int   `json:"new_messages"`
}

// TriggerSync runs a synchronous reconciliation pass for one account.
func (h *Handlers) TriggerSync(c echo.Context) error {
	accountID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid account id")
	}

	account, err := h.store.GetAccount(c.Request().Context(), accountID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}

	suppress := c.QueryParam("suppress_drafting") == "true"
	count, err := h.engine.SyncWithOptions(c.Request().Context(), account, syncengine.Options{
		SuppressDrafting: suppress,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return c.JSON(http.StatusOK, syncResponse{AccountID: accountID, NewMessages: count})
}

// EnqueueSync queues a durable background sync for one account.
func (h *Handlers) EnqueueSync(c echo.Context) error {
	if h.queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sync queue not configured")
	}

	accountID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid account id")
	}
	if _, err := h.store.GetAccount(c.Request().Context(), accountID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}

	if err := h.queue.EnqueueAccountSync(c.Request().Context(), accountID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{"account_id": accountID, "queued": true})
}

// ListMessages returns an account's messages filtered by workflow status.
func (h *Handlers) ListMessages(c echo.Context) error {
	accountID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid account id")
	}

	status := models.MessageStatus(c.QueryParam("status"))
	if status == "" {
		status = models.StatusPending
	}
	switch status {
	case models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusPosted:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	messages, err := h.store.ListMessagesByStatus(c.Request().Context(), accountID, status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

type draftJobRequest struct {
	AccountID  int64   `json:"account_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type draftJobResponse struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// StartDraftJob kicks off an in-process batch that re-drafts messages. With
// no explicit ids it targets the account's pending messages. Progress is
// polled via GetJobStatus; state is gone after a restart.
func (h *Handlers) StartDraftJob(c echo.Context) error {
	var req draftJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AccountID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id is required")
	}

	items := req.MessageIDs
	if len(items) == 0 {
		pending, err := h.store.ListMessagesByStatus(c.Request().Context(), req.AccountID, models.StatusPending, 1000)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		for _, m := range pending {
			items = append(items, m.ID)
		}
	}
	if len(items) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no messages to draft")
	}

	jobID := h.tracker.CreateJob(req.AccountID, len(items))

	// Detached from the request context on purpose: the batch outlives the
	// HTTP request that started it.
	go func() {
		if err := h.tracker.ProcessBatch(context.Background(), jobID, items, h.engine.DraftMessage); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("Batch draft job failed")
		}
	}()

	return c.JSON(http.StatusAccepted, draftJobResponse{JobID: jobID, Total: len(items)})
}

// GetJobStatus reports batch job progress. Unknown and swept ids both 404.
func (h *Handlers) GetJobStatus(c echo.Context) error {
	job := h.tracker.GetStatus(c.Param("id"))
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// ApproveMessage relays the stored draft upstream and marks the message
// posted.
func (h *Handlers) ApproveMessage(c echo.Context) error {
	messageID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}

	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ApprovedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approved_by is required")
	}

	if err := h.engine.ApproveAndPost(c.Request().Context(), messageID, req.ApprovedBy); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"message_id": messageID, "status": models.StatusPosted})
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
