// Package commands holds the fern CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// app carries the state shared by every command once the root pre-run has resolved it.
type app struct {
	v        *viper.Viper
	bindings map[*cobra.Command]map[string]string
	cfg      *config.Config
	logger   ectologger.Logger
	shutdown func(context.Context) error
}

// NewRootCommand builds the fern command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.NewViper(), bindings: make(map[*cobra.Command]map[string]string)}

	root := &cobra.Command{
		Use:   "fern",
		Short: "Reconcile duplicate CRM prospects",
		Long: `fern finds prospects that share a name, elects the record with the richest history
as the survivor, folds the others into it (fields, contacts, activities) and deletes them.

Run with --dry-run first: the full decision trace is printed without touching the store.`,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("pretty-logs", false, "human readable development logs")
	flags.String("crm-url", "", "base URL of the CRM record store")
	a.bind(root, "log_level", "log-level")
	a.bind(root, "pretty_logs", "pretty-logs")
	a.bind(root, "crm_base_url", "crm-url")

	root.AddCommand(
		newRunCommand(a),
		newGroupsCommand(a),
		newRunsCommand(a),
		newMockServerCommand(a),
	)

	return root
}

// bind maps a flag of cmd onto a configuration key. Bindings are applied only for the command
// being executed, so commands may share keys.
func (a *app) bind(cmd *cobra.Command, key, name string) {
	if a.bindings[cmd] == nil {
		a.bindings[cmd] = make(map[string]string)
	}
	a.bindings[cmd][key] = name
}

func (a *app) applyBindings(cmd *cobra.Command) error {
	for c := cmd; c != nil; c = c.Parent() {
		for key, name := range a.bindings[c] {
			flag := c.Flags().Lookup(name)
			if flag == nil {
				flag = c.PersistentFlags().Lookup(name)
			}
			if flag == nil {
				return fmt.Errorf("unknown flag %s bound to %s", name, key)
			}
			if err := a.v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.applyBindings(cmd); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.NewLogger(logging.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	if err != nil {
		return err
	}
	a.logger = logger
	a.shutdown = tracing.Setup(cfg.AppName, logger)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(context.WithoutCancel(cmd.Context()))
}

func (a *app) newStore() (*crm.Client, error) {
	return crm.NewClient(crm.Config{
		BaseURL:        a.cfg.CRMBaseURL,
		APIKey:         a.cfg.CRMAPIKey,
		Timeout:        a.cfg.CRMTimeout,
		ProspectsPath:  a.cfg.ProspectsPath,
		ActivitiesPath: a.cfg.ActivitiesPath,
		ContactsPath:   a.cfg.ContactsPath,
	}, a.logger)
}
