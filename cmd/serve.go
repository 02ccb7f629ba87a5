package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/api"
	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/draft"
	"github.com/replydesk/internal/jobs"
	"github.com/replydesk/internal/llm"
	"github.com/replydesk/internal/notify"
	"github.com/replydesk/internal/platform"
	"github.com/replydesk/internal/platform/instagram"
	"github.com/replydesk/internal/platform/youtube"
	"github.com/replydesk/internal/store"
	syncengine "github.com/replydesk/internal/sync"
	"github.com/replydesk/internal/syncqueue"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ReplyDesk API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-queue",
				Usage: "Run without the durable sync queue",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Int("port") != 0 {
		cfg.Server.Port = c.Int("port")
	}

	ctx := c.Context

	st, err := store.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	model, err := llm.New(ctx, llm.Options{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	registry := platform.NewRegistry(youtube.NewClient(), instagram.NewClient())
	engine := syncengine.NewEngine(st, registry, draft.NewGenerator(model, nil), notify.NewSink(st))
	engine.SetLimits(cfg.Sync.PostLimit, cfg.Sync.ThreadLimit)

	tracker := jobs.NewTracker(jobs.Config{
		ChunkSize:  cfg.Jobs.ChunkSize,
		ChunkDelay: cfg.Jobs.ChunkDelay,
	})
	go tracker.StartSweeper(ctx, cfg.Jobs.SweepInterval, cfg.Jobs.MaxAge)

	var queue api.Enqueuer
	if !c.Bool("no-queue") {
		q, err := syncqueue.NewQueue(ctx, cfg.Database.URL, st, engine, cfg.Sync.QueueWorkers)
		if err != nil {
			return fmt.Errorf("create sync queue: %w", err)
		}
		if err := q.Start(ctx); err != nil {
			return fmt.Errorf("start sync queue: %w", err)
		}
		defer q.Stop(context.Background())
		queue = q
	}

	log.Info().Int("port", cfg.Server.Port).Msg("Starting ReplyDesk API server")
	server := api.NewServer(cfg.Server.Port, api.NewHandlers(st, engine, tracker, queue))
	return server.Start()
}
