package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/crmmock"
)

const mockShutdownTimeout = 5 * time.Second

func newMockServerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve an in-memory CRM for local runs",
		Long: `Serve the CRM record store API from memory, seeded from a JSON file with
"prospects", "contacts" and "activities" arrays. Useful to rehearse a merge end to end.`,
		Example: `  fern mock-server --seed testdata/seed.json --port 3010`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			seed := crmmock.Seed{}
			if a.cfg.MockServerSeed != "" {
				loaded, err := crmmock.LoadSeed(a.cfg.MockServerSeed)
				if err != nil {
					return err
				}
				seed = loaded
			}

			store := crmmock.NewStore(seed)
			store.RejectChildUpdates(a.cfg.MockRejectUpdates)
			server := crmmock.NewServer(store, a.cfg.CRMAPIKey, a.cfg.AppName+"-crmmock", a.logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(fmt.Sprintf(":%d", a.cfg.MockServerPort))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mockShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 3010, "listen port")
	flags.String("seed", "", "JSON seed file")
	flags.Bool("reject-child-updates", false, "answer contact/activity updates with 405 to exercise the recreate fallback")
	a.bind(cmd, "mock_server_port", "port")
	a.bind(cmd, "mock_server_seed", "seed")
	a.bind(cmd, "mock_reject_updates", "reject-child-updates")

	return cmd
}
