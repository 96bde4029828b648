package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/model"
)

func claimsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Inspect claims",
	}
	cmd.AddCommand(staleCmd())
	return cmd
}

func staleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List claims still pre-claimed after the pickup window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfg.DBPath); err != nil {
				return fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
			}
			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			now := time.Now()
			stale, err := claims.NewService(database, nil).Stale(cmd.Context(), now)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				fmt.Println("No stale claims.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CLAIM\tITEM\tCLAIMED\tOVERDUE")
			for _, c := range stale {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					c.ID, c.ItemID,
					c.ClaimDate.Local().Format(time.DateTime),
					now.Sub(c.ClaimDate.Add(model.PickupWindow)).Round(time.Minute))
			}
			return tw.Flush()
		},
	}
}
