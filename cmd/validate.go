package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Checks the configuration and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := e.cfg.ResolveIdentities(nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d identities, delivery %s via %s, seed %s, archive %s\n",
				len(ids), e.cfg.DeliveryMode(), e.cfg.Delivery.Sink, e.cfg.Seed.Provider, e.cfg.Archive.Provider)
			return nil
		},
	}
}
