// Command sessionctl inspects the session data the voice agent has written.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/preflight"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

type openStoreFunc func(ctx context.Context, cfg *config.Config) (database.DocumentStore, error)

func openStore(ctx context.Context, cfg *config.Config) (database.DocumentStore, error) {
	return database.Open(ctx, cfg, nil)
}

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)

	if err := newRootCmd(openStore, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open openStoreFunc, out io.Writer) *cobra.Command {
	var (
		backend string
		timeout time.Duration
	)

	// withRepo loads config, opens the store and hands a repository to fn
	withRepo := func(cmd *cobra.Command, fn func(ctx context.Context, repo *services.SessionRepository, store database.DocumentStore, cfg *config.Config) error) error {
		cfg := config.Load()
		if backend != "" {
			cfg.StoreBackend = backend
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		store, err := open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
		}
		defer store.Close(context.Background())

		return fn(ctx, services.NewSessionRepository(store, nil), store, cfg)
	}

	root := &cobra.Command{
		Use:          "sessionctl",
		Short:        "Inspect Maggie session data",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&backend, "store", "", "store backend override (memory, mongodb, firestore, redis, sql)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for store operations")

	root.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List every session id with stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *services.SessionRepository, _ database.DocumentStore, _ *config.Config) error {
				ids, err := repo.ListSessions(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the distortions, tasks, summary and resources of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *services.SessionRepository, _ database.DocumentStore, _ *config.Config) error {
				report, err := sessionReport(ctx, repo, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "summaries",
		Short: "Print every stored summary, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *services.SessionRepository, _ database.DocumentStore, _ *config.Config) error {
				summaries, err := repo.ListSummaries(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summaries)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run the startup checks against the configured environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, func(ctx context.Context, _ *services.SessionRepository, store database.DocumentStore, cfg *config.Config) error {
				results := preflight.NewChecker(store, cfg).RunAll(ctx)
				if preflight.HasFailures(results) {
					return fmt.Errorf("pre-flight checks failed")
				}
				return nil
			})
		},
	})

	return root
}

// sessionReport gathers the four slots of a session; absent slots stay null
func sessionReport(ctx context.Context, repo *services.SessionRepository, sessionID string) (map[string]any, error) {
	report := map[string]any{"sessionId": sessionID}

	distortions, err := repo.GetDistortions(ctx, sessionID)
	if err := absentOK(err); err != nil {
		return nil, err
	}
	report["cognitiveDistortions"] = distortions

	tasks, err := repo.GetTasks(ctx, sessionID)
	if err := absentOK(err); err != nil {
		return nil, err
	}
	report["userTasks"] = tasks

	summary, err := repo.GetSummary(ctx, sessionID)
	if err := absentOK(err); err != nil {
		return nil, err
	}
	report["summary"] = summary

	resources, err := repo.GetResources(ctx, sessionID)
	if err := absentOK(err); err != nil {
		return nil, err
	}
	report["resources"] = resources

	return report, nil
}

func absentOK(err error) error {
	if err == nil || services.IsNotFound(err) {
		return nil
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
