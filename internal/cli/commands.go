// Package cli implements evalctl, the operator command line for evalbench.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/okian/evalbench/internal/adapters/http/api"
	"github.com/okian/evalbench/internal/bootstrap"
	"github.com/okian/evalbench/internal/config"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/internal/domain/progress"
	"github.com/okian/evalbench/pkg/logger"
)

// Environment variables read by evalctl.
const (
	EnvURL       = "EVALBENCH_URL"
	EnvToken     = "EVALBENCH_TOKEN"
	EnvJWTSecret = "EVALBENCH_JWT_SECRET"
)

// Defaults for global flags.
const (
	defaultURL      = "http://localhost:9080"
	defaultTimeout  = 30 * time.Second
	defaultTokenTTL = 12 * time.Hour
	healthWait      = 10 * time.Second
)

type globalOptions struct {
	url      string
	token    string
	timeout  time.Duration
	verbose  bool
	interval time.Duration
	debounce time.Duration
}

func (o *globalOptions) client() *Client {
	return NewClient(o.url, o.token, o.timeout)
}

// NewRootCommand builds the evalctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "evalctl",
		Short:         "Operate evalbench bulk evaluations and leaderboards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.verbose {
				return logger.SetLevelString("debug")
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", envOr(EnvURL, defaultURL), "Base URL of the evalbench service")
	flags.StringVar(&opts.token, "token", os.Getenv(EnvToken), "Bearer token for privileged routes")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.DurationVar(&opts.interval, "interval", progress.DefaultPollInterval, "Progress poll interval")
	flags.DurationVar(&opts.debounce, "debounce", progress.DefaultDebounce, "Coalescing window for progress updates")

	root.AddCommand(
		newStartCommand(opts),
		newWatchCommand(opts),
		newLeaseCommand(opts),
		newLeaderboardCommand(opts),
		newJudgeStatusCommand(opts),
		newTokenCommand(),
		newRunLocalCommand(),
	)
	return root
}

func newStartCommand(opts *globalOptions) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "start <competitionId>",
		Short: "Start a bulk evaluation and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := opts.client()
			if err := c.WaitHealthy(ctx, healthWait); err != nil {
				return fmt.Errorf("service not healthy at %s: %w", opts.url, err)
			}
			runID, err := c.StartRun(ctx, args[0])
			if err != nil {
				if IsStatus(err, http.StatusConflict) {
					if l, lerr := c.Lease(ctx); lerr == nil && l != nil {
						return fmt.Errorf("%w (held by %s since %s)", err, l.LockedBy, l.LockedAt.Format(time.RFC3339))
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bulk evaluation started for %s (run %s)\n", args[0], runID)
			if noWatch {
				return nil
			}
			if err := awaitRunProgress(ctx, c, args[0], runID, healthWait); err != nil {
				return err
			}
			return watch(ctx, cmd.OutOrStdout(), c, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Return after the run is accepted")
	return cmd
}

var (
	errRunNotStarted = errors.New("run progress not recorded yet")
	errRunAbandoned  = errors.New("run ended without completing")
)

// awaitRunProgress waits until the stored progress belongs to runID. If the
// run lets go of the lease before that, it ended without recording progress.
func awaitRunProgress(ctx context.Context, c *Client, competitionID, runID string, maxWait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = maxWait
	return backoff.Retry(func() error {
		p, err := c.Progress(ctx, competitionID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if p != nil && p.RunID == runID {
			return nil
		}
		l, err := c.Lease(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if l == nil || !l.IsLocked || l.RunID != runID {
			return backoff.Permanent(fmt.Errorf("run %s ended without recording progress", runID))
		}
		return errRunNotStarted
	}, backoff.WithContext(policy, ctx))
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <competitionId>",
		Short: "Follow a run until it completes or pauses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), cmd.OutOrStdout(), opts.client(), opts, args[0])
		},
	}
}

func watch(ctx context.Context, out io.Writer, c *Client, opts *globalOptions, competitionID string) error {
	poller := progress.NewPoller(func(ctx context.Context) (*model.RunProgress, error) {
		return fetchLive(ctx, c, competitionID)
	}, progress.WithInterval(opts.interval), progress.WithDebounce(opts.debounce))

	err := poller.Run(ctx, func(p model.RunProgress) {
		printProgress(out, p)
	})
	if errors.Is(err, progress.ErrNoProgress) {
		return fmt.Errorf("no run recorded for %s", competitionID)
	}
	return err
}

// fetchLive reads the competition's progress and, while it says running,
// confirms that its run still holds the lease. A failed run releases the
// lease but leaves its progress running, which would otherwise be watched
// forever. Without a privileged token the lease is unreadable and the
// progress is taken as is.
func fetchLive(ctx context.Context, c *Client, competitionID string) (*model.RunProgress, error) {
	p, err := c.Progress(ctx, competitionID)
	if err != nil || p == nil || p.Status != model.RunStatusRunning {
		return p, err
	}
	l, err := c.Lease(ctx)
	switch {
	case IsStatus(err, http.StatusUnauthorized), IsStatus(err, http.StatusForbidden):
		return p, nil
	case err != nil:
		return nil, err
	case l != nil && l.IsLocked && l.RunID == p.RunID:
		return p, nil
	}

	// The run may have finished between the two reads.
	again, err := c.Progress(ctx, competitionID)
	if err != nil || again == nil || again.Status != model.RunStatusRunning || again.RunID != p.RunID {
		return again, err
	}
	return nil, fmt.Errorf("%w: run %s for %s no longer holds the lease", errRunAbandoned, p.RunID, competitionID)
}

func newLeaseCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lease",
		Short: "Show who holds the bulk evaluation lease",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := opts.client().Lease(cmd.Context())
			if err != nil {
				return err
			}
			printLease(cmd.OutOrStdout(), l)
			return nil
		},
	}
}

func newLeaderboardCommand(opts *globalOptions) *cobra.Command {
	var level1, noGenerate, verify bool
	cmd := &cobra.Command{
		Use:   "leaderboard <competitionId>",
		Short: "Generate and print the final leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := opts.client()
			if !noGenerate {
				msg, err := c.GenerateLeaderboard(ctx, args[0], level1)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			}
			entries, err := c.FinalLeaderboard(ctx, args[0])
			if err != nil {
				return err
			}
			printLeaderboard(cmd.OutOrStdout(), entries)
			if verify {
				if err := VerifyRanks(entries); err != nil {
					return fmt.Errorf("leaderboard inconsistent: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ranks verified")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&level1, "level1", false, "Rank by automated score only")
	cmd.Flags().BoolVar(&noGenerate, "no-generate", false, "Print the stored leaderboard without regenerating")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check rank assignment of the returned entries")
	return cmd
}

func newJudgeStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "judge-status <competitionId>",
		Short: "Report whether judges scored the top N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().JudgeStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "complete=%t evaluated=%d topN=%d\n", st.Complete, st.EvaluatedParticipants, st.TopN)
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		user, role, secret string
		ttl                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("no signing secret: set --secret or %s", EnvJWTSecret)
			}
			token, err := api.NewAuthenticator(secret, nil).IssueToken(user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Subject user ID")
	cmd.Flags().StringVar(&role, "role", "admin", "Role claim")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv(EnvJWTSecret), "HS256 signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRunLocalCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "run-local <competitionId>",
		Short: "Run a bulk evaluation in-process against the configured store",
		Long: `Assembles the service from EVALBENCH_* configuration, the same way the
server does, and runs one bulk evaluation to completion in this process. The
lease still guards against a concurrent server-side run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			rt, err := bootstrap.New(ctx, cfg, logger.Get())
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, runErr := rt.Service.RunBulkEvaluation(ctx, args[0], user)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if summary.RunID != "" {
				if err := enc.Encode(summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&user, "user", "evalctl", "User recorded on the lease")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
