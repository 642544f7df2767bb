package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/app"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/config"
)

var (
	seedClient   string
	seedUser     string
	seedEmail    string
	seedAnswered []string
	seedComplete bool
)

// seedCmd writes a client namespace into durable storage so a browser can
// pick it up by setting the mm_client cookie. Used to reproduce states
// such as "answered on another tab" by hand.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write identity and answered flags into a client namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.Driver != config.DriverDurable {
			return errors.New("seed needs durable storage (set storage.driver=durable)")
		}
		if seedUser == "" {
			return errors.New("--user is required")
		}
		if seedClient == "" {
			seedClient = uuid.NewString()
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		local := a.Backends.Client(seedClient).Local
		if err := local.SetIdentity(ctx, seedUser, seedEmail); err != nil {
			return err
		}
		if len(seedAnswered) > 0 {
			if err := local.FlagAnswered(ctx, seedUser, seedAnswered...); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("complete") {
			if err := local.SetCompletionFlag(ctx, seedComplete); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "seeded client %s for user %s (%d answered)\n", seedClient, seedUser, len(seedAnswered))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedClient, "client", "", "client namespace id (generated when empty)")
	seedCmd.Flags().StringVar(&seedUser, "user", "", "backend user id")
	seedCmd.Flags().StringVar(&seedEmail, "email", "", "user email")
	seedCmd.Flags().StringSliceVar(&seedAnswered, "answered", nil, "question ids to flag as answered")
	seedCmd.Flags().BoolVar(&seedComplete, "complete", false, "cached onboarding completion flag")
}
