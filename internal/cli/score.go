package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	urfave "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/authenticity"
)

const (
	flagUsername  = "username"
	flagFollowers = "followers"
	flagFollowing = "following"
	flagPosts     = "posts"
	flagAge       = "age"
	flagFile      = "file"
)

func scoreCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "score",
		Aliases:   []string{"s"},
		Usage:     "Score a single account locally",
		UsageText: "accountcheck score --username jane --followers 1200 --following 300 --posts 85 --age 14",
		Action:    cmdScore,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     flagUsername,
				Aliases:  []string{"u"},
				Usage:    "Account handle",
				Required: true,
			},
			&urfave.Int64Flag{Name: flagFollowers, Usage: "Follower count"},
			&urfave.Int64Flag{Name: flagFollowing, Usage: "Following count"},
			&urfave.Int64Flag{Name: flagPosts, Usage: "Number of posts"},
			&urfave.FloatFlag{Name: flagAge, Usage: "Account age in months (fractions allowed)"},
		},
	}
}

func batchCommand() *urfave.Command {
	return &urfave.Command{
		Name:    "batch",
		Aliases: []string{"b"},
		Usage:   "Score every account listed in a file locally",
		UsageText: `accountcheck batch --file accounts.yaml
   accountcheck --format yaml batch -f accounts.json`,
		Action: cmdBatch,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     flagFile,
				Aliases:  []string{"f"},
				Usage:    "YAML or JSON file holding a list of accounts",
				Required: true,
			},
		},
	}
}

// ScoreResult is one scored account as printed by the CLI.
type ScoreResult struct {
	Username string               `json:"username"`
	Status   authenticity.Status  `json:"status,omitempty"`
	Score    int                  `json:"score"`
	Details  string               `json:"details,omitempty"`
	Flags    []authenticity.Flag  `json:"flags"`
	Signals  authenticity.Signals `json:"signals"`
	Error    string               `json:"error,omitempty"`
}

func newScoreResult(stats authenticity.AccountStats) ScoreResult {
	res := authenticity.Score(stats)
	return ScoreResult{
		Username: stats.Username,
		Status:   res.Status,
		Score:    res.Score,
		Details:  res.Details,
		Flags:    res.Flags,
		Signals:  authenticity.NewScorer().Signals(stats),
	}
}

func cmdScore(_ context.Context, cmd *urfave.Command) error {
	req := analysis.Request{
		Username:   analysis.Text(cmd.String(flagUsername)),
		Followers:  analysis.Number(cmd.Int64(flagFollowers)),
		Following:  analysis.Number(cmd.Int64(flagFollowing)),
		Posts:      analysis.Number(cmd.Int64(flagPosts)),
		AccountAge: analysis.Number(cmd.Float(flagAge)),
	}
	stats, err := req.Stats()
	if err != nil {
		return err
	}
	return encode(cmd, newScoreResult(stats))
}

func cmdBatch(ctx context.Context, cmd *urfave.Command) error {
	reqs, err := readAccounts(cmd.String(flagFile))
	if err != nil {
		return err
	}

	results := make([]ScoreResult, len(reqs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, req := range reqs {
		g.Go(func() error {
			stats, err := req.Stats()
			if err != nil {
				results[i] = ScoreResult{Username: string(req.Username), Flags: []authenticity.Flag{}, Error: err.Error()}
				return nil
			}
			results[i] = newScoreResult(stats)
			return nil
		})
	}
	_ = g.Wait()

	return encode(cmd, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

// readAccounts parses a YAML (or JSON) list of accounts. Values go through
// the same tolerant decoding the HTTP API applies.
func readAccounts(path string) ([]analysis.Request, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw []map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, errors.New("no accounts found in file")
	}

	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", path, err)
	}
	var reqs []analysis.Request
	if err := json.Unmarshal(asJSON, &reqs); err != nil {
		return nil, fmt.Errorf("decoding accounts: %w", err)
	}
	return reqs, nil
}
