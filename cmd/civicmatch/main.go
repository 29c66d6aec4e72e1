package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"civicmatch/internal/app"
	"civicmatch/internal/cache"
	"civicmatch/internal/config"
	"civicmatch/internal/match"
	"civicmatch/internal/observability"
	"civicmatch/internal/policy"
	"civicmatch/internal/provider"
	"civicmatch/internal/store"
)

type cli struct {
	configPath string
	mode       string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "civicmatch",
		Short:         "Match civic concerns to policy areas",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CM_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.mode, "mode", "", "provider mode override (stub, llm, backend)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(c.matchCmd(), c.refineCmd(), c.concernsCmd(), c.doctorCmd())
	return root
}

func (c *cli) setup() error {
	// --mode wins over both the file and the environment.
	if c.mode != "" {
		if err := os.Setenv("CM_MODE", c.mode); err != nil {
			return err
		}
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.verbose {
		cfg.Debug = true
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) matchCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "match [concern]",
		Short: "Match one free-text concern to policy areas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.MatchPolicies(ctx, match.Request{
					UserInput:    strings.Join(args, " "),
					LocationHint: location,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "postal code used as context")
	return cmd
}

func (c *cli) refineCmd() *cobra.Command {
	var (
		rejected      []string
		clarification string
		location      string
	)
	cmd := &cobra.Command{
		Use:   "refine [original concern]",
		Short: "Re-match a concern excluding rejected match ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				resp, err := a.Service.RefinePolicies(ctx, match.Refinement{
					OriginalInput: strings.Join(args, " "),
					RejectedIDs:   rejected,
					Clarification: clarification,
					LocationHint:  location,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringSliceVar(&rejected, "reject", nil, "match id the user rejected (repeatable)")
	cmd.Flags().StringVar(&clarification, "clarify", "", "extra context from the user")
	cmd.Flags().StringVar(&location, "location", "", "postal code used as context")
	return cmd
}

func (c *cli) concernsCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "concerns [concern]...",
		Short: "Match several concerns one after another",
		Long: `Matches each argument as a separate concern, in order, pausing
between calls. The first failure aborts the whole batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > c.cfg.Matching.MaxConcerns {
				return fmt.Errorf("at most %d concerns are allowed", c.cfg.Matching.MaxConcerns)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				batch, err := a.Service.MatchConcerns(ctx, args, location)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), batch)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "postal code used as context")
	return cmd
}

func (c *cli) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and reachability of configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			failed := 0
			for _, check := range c.checks() {
				if check.skip {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: SKIP\n", check.name)
					continue
				}
				if err := check.fn(ctx); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL (%v)\n", check.name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", check.name)
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

type check struct {
	name string
	skip bool
	fn   func(ctx context.Context) error
}

func (c *cli) checks() []check {
	cfg := c.cfg
	return []check{
		{name: "catalog", fn: func(context.Context) error {
			_, err := policy.Load(cfg.Catalog.Path)
			return err
		}},
		{name: "provider:" + cfg.Mode, fn: func(ctx context.Context) error {
			p, err := provider.New(cfg, provider.Deps{Logger: c.logger})
			if err != nil {
				return err
			}
			if b, ok := p.(*provider.Backend); ok {
				return b.Health(ctx)
			}
			return nil
		}},
		{name: "database", skip: cfg.Database.DSN == "", fn: func(ctx context.Context) error {
			st, err := store.Open(cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Ping(ctx)
		}},
		{name: "redis", skip: cfg.Cache.RedisURL == "", fn: func(ctx context.Context) error {
			rc, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.TTL)
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Ping(ctx)
		}},
	}
}

func (c *cli) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
			c.logger.Warn("close failed", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
