package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentbridge/agentbridge/provider"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the selected backend's sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		adapter, err := openAdapter(cfg)
		if err != nil {
			return err
		}

		lister, ok := adapter.(provider.SessionLister)
		if !ok {
			return fmt.Errorf("provider %s does not support session listing", adapter.Name())
		}
		refs, err := lister.ListSessions(ctx)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, ref := range refs {
			if ref.ID != "" {
				fmt.Printf("%d\t%s\n", ref.Index, ref.ID)
			} else {
				fmt.Printf("%d\t(no id yet)\n", ref.Index)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
