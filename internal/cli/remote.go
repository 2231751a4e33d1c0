package cli

import (
	"context"

	urfave "github.com/urfave/cli/v3"

	"github.com/mbd888/accountcheck/internal/apiclient"
)

const (
	flagLimit  = "limit"
	flagCursor = "cursor"
)

func historyCommand() *urfave.Command {
	return &urfave.Command{
		Name:    "history",
		Aliases: []string{"h"},
		Usage:   "List stored analyses from a running server",
		Action:  cmdHistory,
		Flags: []urfave.Flag{
			apiURLFlag(),
			apiKeyFlag(),
			&urfave.StringFlag{Name: flagUsername, Usage: "Only show analyses for this handle"},
			&urfave.IntFlag{Name: flagLimit, Usage: "Maximum number of analyses (1-100)", Value: 20},
			&urfave.StringFlag{Name: flagCursor, Usage: "Continue from a previous page"},
		},
	}
}

func statsCommand() *urfave.Command {
	return &urfave.Command{
		Name:   "stats",
		Usage:  "Show aggregate statistics from a running server",
		Action: cmdStats,
		Flags: []urfave.Flag{
			apiURLFlag(),
			apiKeyFlag(),
		},
	}
}

func apiClient(cmd *urfave.Command) *apiclient.Client {
	return apiclient.New(apiclient.Config{
		APIURL: cmd.String(flagAPI),
		APIKey: cmd.String(flagAPIKey),
	})
}

func cmdHistory(ctx context.Context, cmd *urfave.Command) error {
	page, err := apiClient(cmd).History(ctx,
		cmd.String(flagUsername),
		cmd.Int(flagLimit),
		cmd.String(flagCursor),
	)
	if err != nil {
		return err
	}
	return encode(cmd, page)
}

func cmdStats(ctx context.Context, cmd *urfave.Command) error {
	stats, err := apiClient(cmd).Stats(ctx)
	if err != nil {
		return err
	}
	return encode(cmd, stats)
}
