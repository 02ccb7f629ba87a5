package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "replydesk",
		Usage:   "Moderation console for YouTube and Instagram comments with AI reply drafting",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "replydesk.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.SyncCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
