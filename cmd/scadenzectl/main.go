// Command scadenzectl inspects and updates recurring schedules against the
// configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scadenze/internal/backend"
	"scadenze/internal/cli"
	"scadenze/internal/config"
	applog "scadenze/internal/log"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	store      backend.Backend
	gen        *schedule.Generator
	resolver   *services.NextDueResolver
	loader     *services.CompletionLoader
	completion *services.CompletionService
	now        func() time.Time
	jsonOut    bool
}

func newApp(store backend.Backend, cfg services.ResolverConfig, now func() time.Time) *app {
	gen := schedule.NewGenerator(schedule.Options{Now: now})
	return &app{
		store:      store,
		gen:        gen,
		resolver:   services.NewNextDueResolver(schedule.ActiveOnly(gen), cfg),
		loader:     services.NewCompletionLoader(store, 0),
		completion: services.NewCompletionService(store, store, gen, nil, nil),
		now:        now,
	}
}

// newRootCmd builds the command tree. setup supplies the app lazily so that
// --help works without a store.
func newRootCmd(setup func() (*app, error)) *cobra.Command {
	var (
		a       *app
		jsonOut bool
	)
	get := func() *app { return a }

	root := &cobra.Command{
		Use:   "scadenzectl",
		Short: "Inspect recurring income and expense schedules",
		Long: `Inspect recurring income and expense schedules and record which
occurrences were paid.

Examples:
  scadenzectl items
  scadenzectl preview 7 --count 6
  scadenzectl next-due 7 --as-of 2024-03-15
  scadenzectl month 7 2024-03
  scadenzectl mark 7_2 --month 2024-03`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a != nil {
				return nil
			}
			var err error
			a, err = setup()
			if err != nil {
				return err
			}
			a.jsonOut = jsonOut
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a != nil && a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of a table")

	root.AddCommand(
		newItemsCmd(get),
		newPreviewCmd(get),
		newNextDueCmd(get),
		newMonthCmd(get),
		newMarkCmd(get),
	)
	return root
}

func initFromEnv() (*app, error) {
	cli.LoadEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	level, _ := applog.ParseLevel(cfg.LogLevel)
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: applog.ComponentCLI,
		Output:    os.Stderr,
	})
	applog.SetDefault(logger)
	store, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		return nil, err
	}
	return newApp(store, cli.ResolverConfig(cfg), time.Now), nil
}

func main() {
	if err := newRootCmd(initFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
