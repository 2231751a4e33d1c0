// Package cli implements the accountcheck command line tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/accountcheck/internal/logging"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Flag names shared across commands.
const (
	flagDebug  = "debug"
	flagFormat = "format"
	flagAPI    = "api"
	flagAPIKey = "api-key"
)

var (
	version = "v0.0.1-default"
	commit  = ""
)

func apiURLFlag() *urfave.StringFlag {
	return &urfave.StringFlag{
		Name:    flagAPI,
		Usage:   "Base URL of the accountcheck API",
		Value:   "http://localhost:8080",
		Sources: urfave.EnvVars("ACCOUNTCHECK_API_URL"),
	}
}

func apiKeyFlag() *urfave.StringFlag {
	return &urfave.StringFlag{
		Name:    flagAPIKey,
		Usage:   "API key sent as a Bearer token",
		Sources: urfave.EnvVars("ACCOUNTCHECK_API_KEY"),
	}
}

// Execute creates and runs the CLI application.
func Execute() {
	if err := NewApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// NewApp builds the root command writing results to out. Flags are created
// per call so repeated runs in one process start from defaults.
func NewApp(out io.Writer) *urfave.Command {
	return &urfave.Command{
		Name:    "accountcheck",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Usage:   "Score social media accounts for authenticity",
		Writer:  out,
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  flagDebug,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&urfave.StringFlag{
				Name:  flagFormat,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
				Validator: func(s string) error {
					switch s {
					case formatJSON, formatYAML, "yml":
						return nil
					}
					return fmt.Errorf("unsupported format %q", s)
				},
			},
		},
		Commands: []*urfave.Command{
			scoreCommand(),
			batchCommand(),
			historyCommand(),
			statsCommand(),
		},
		Before: func(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
			level := "warn"
			if cmd.Bool(flagDebug) {
				level = "debug"
			}
			slog.SetDefault(logging.NewWithWriter(os.Stderr, level, "text"))
			return ctx, nil
		},
	}
}

func encode(cmd *urfave.Command, v any) error {
	w := cmd.Root().Writer
	if w == nil {
		w = os.Stdout
	}
	switch cmd.Root().String(flagFormat) {
	case formatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return toYAML(enc, v)
	default:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	}
}

// toYAML routes v through JSON first so json tags (and custom
// marshalers) decide the field names.
func toYAML(enc *yaml.Encoder, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(b, &generic); err != nil {
		return err
	}
	return enc.Encode(generic)
}
