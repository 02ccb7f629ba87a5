package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/draft"
	"github.com/replydesk/internal/llm"
	"github.com/replydesk/internal/notify"
	"github.com/replydesk/internal/platform"
	"github.com/replydesk/internal/platform/instagram"
	"github.com/replydesk/internal/platform/youtube"
	"github.com/replydesk/internal/store"
	syncengine "github.com/replydesk/internal/sync"
)

// SyncCommand returns the CLI command for a one-shot account sync
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run one reconciliation pass for an account",
		ArgsUsage: "ACCOUNT_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-drafts",
				Usage: "Skip AI drafting for newly discovered comments",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sync every active account instead of one",
			},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
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

	opts := syncengine.Options{
		SuppressDrafting: c.Bool("no-drafts") || cfg.Sync.SuppressDrafting,
	}

	if c.Bool("all") {
		accounts, err := st.ListActiveAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		total := 0
		for i := range accounts {
			count, err := engine.SyncWithOptions(ctx, &accounts[i], opts)
			if err != nil {
				fmt.Printf("Account %d: %s\n", accounts[i].ID, err)
				continue
			}
			fmt.Printf("Account %d (%s): %d new messages\n", accounts[i].ID, accounts[i].Platform, count)
			total += count
		}
		fmt.Printf("Done: %d new messages across %d accounts\n", total, len(accounts))
		return nil
	}

	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one ACCOUNT_ID argument (or --all)")
	}
	var accountID int64
	if _, err := fmt.Sscanf(c.Args().First(), "%d", &accountID); err != nil {
		return fmt.Errorf("invalid account id %q", c.Args().First())
	}

	account, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	count, err := engine.SyncWithOptions(ctx, account, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Account %d (%s): %d new messages\n", account.ID, account.Platform, count)
	return nil
}
