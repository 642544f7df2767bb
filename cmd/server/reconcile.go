package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/app"
)

var (
	reconcileUser   string
	reconcileClient string
)

// reconcileCmd prints what a page of the given client would treat as
// answered. Useful against durable storage when a user reports a stuck step.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Print the reconciled answered set of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reconcileUser == "" {
			return errors.New("--user is required")
		}
		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		out := struct {
			UserID string   `json:"user_id"`
			Client string   `json:"client,omitempty"`
			Server []string `json:"server"`
			Local  []string `json:"local,omitempty"`
		}{UserID: reconcileUser, Client: reconcileClient}

		out.Server = a.Reconciler.Server(ctx, reconcileUser).Sorted()
		if reconcileClient != "" {
			out.Local = a.Reconciler.Local(ctx, a.Backends.Client(reconcileClient).Local, reconcileUser).Sorted()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileUser, "user", "", "backend user id")
	reconcileCmd.Flags().StringVar(&reconcileClient, "client", "", "client namespace id (mm_client cookie) to include local flags from")
}
