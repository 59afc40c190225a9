package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/9046balaji/Heart-sub001/config"
	"github.com/9046balaji/Heart-sub001/rag"
)

// errMemoryDisabled is returned by memory commands without a database.
var errMemoryDisabled = errors.New("memory store is not available; enable the database section")

type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "medrag",
		Short:        "Graded medical question answering over curated and trusted sources",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level")

	root.AddCommand(c.askCmd(), c.indexCmd(), c.rememberCmd(), c.forgetCmd(), c.configCmd(), versionCmd())
	return root
}

func (c *cli) init() error {
	cfg, err := config.NewLoader().
		WithConfigPath(c.configPath).
		WithValidator(config.Validate).
		Load()
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	c.logger = initLogger(cfg.Log)
	return nil
}

// withApp builds the app, runs fn and closes the app.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	runErr := fn(a)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		c.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}

// =============================================================================
// ask
// =============================================================================

func (c *cli) askCmd() *cobra.Command {
	var (
		userID   string
		strategy string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with graded, cited evidence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strategy != "" {
				c.cfg.Retrieval.Strategy = strategy
				if err := config.Validate(c.cfg); err != nil {
					return err
				}
			}
			query := strings.Join(args, " ")

			return c.withApp(cmd.Context(), func(a *app) error {
				if _, err := a.loadCorpus(cmd.Context()); err != nil {
					return err
				}
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				res := a.scrub(p.Process(cmd.Context(), query, userID))
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return writeAnswer(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user whose memories are consulted")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "retrieval strategy: assembled, tiered or hybrid")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeAnswer(w io.Writer, res *rag.SelfRAGResult) error {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(res.Response))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Support: %s (confidence %.2f)\n", res.SupportLevel, res.Confidence)
	if len(res.Citations) > 0 {
		b.WriteString("Sources:\n")
		for i, cite := range res.Citations {
			fmt.Fprintf(&b, "  [%d] %s\n", i+1, cite)
		}
	}
	if len(res.Conflicts) > 0 {
		b.WriteString("Conflicting evidence:\n")
		for _, cf := range res.Conflicts {
			fmt.Fprintf(&b, "  - %s %s: %s\n", strings.ToUpper(string(cf.Severity)), cf.Type, cf.Explanation)
		}
	}
	if res.NeedsWebSearch {
		b.WriteString("Evidence was limited; verify with a healthcare professional.\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// =============================================================================
// index
// =============================================================================

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <corpus.jsonl>",
		Short: "Embed a JSONL corpus into the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readCorpus(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.index(cmd.Context(), a.vectors, docs); err != nil {
					return err
				}
				total, err := a.vectors.Count(cmd.Context())
				if err != nil {
					return err
				}
				if !c.cfg.Qdrant.Enabled {
					a.logger.Warn("vector store is in-process; indexed documents are not persisted")
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d in store)\n", len(docs), total)
				return err
			})
		},
	}
}

// =============================================================================
// remember / forget
// =============================================================================

func (c *cli) rememberCmd() *cobra.Command {
	var userID, kind string
	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a personal memory consulted by assembled retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if a.memory == nil {
					return errMemoryDisabled
				}
				rec, err := a.memory.Remember(cmd.Context(), userID, kind, strings.Join(args, " "))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "remembered #%d for %s\n", rec.ID, userID)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	cmd.Flags().StringVar(&kind, "kind", "note", "memory kind, for example medication or condition")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) forgetCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete every memory of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if a.memory == nil {
					return errMemoryDisabled
				}
				n, err := a.memory.Forget(cmd.Context(), userID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "forgot %d memories for %s\n", n, userID)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// =============================================================================
// config / version
// =============================================================================

const redacted = "<redacted>"

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(redactSecrets(*c.cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func redactSecrets(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.LLM.APIKey)
	mask(&cfg.Redis.Password)
	mask(&cfg.Database.Password)
	mask(&cfg.Qdrant.APIKey)
	mask(&cfg.Neo4j.Password)
	mask(&cfg.Web.Brave.APIKey)
	return cfg
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "medrag %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
			return err
		},
	}
}
