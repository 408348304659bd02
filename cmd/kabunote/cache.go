package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the expiring cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache entries per namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.CacheStats(context.Background())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(stats.Namespaces))
			for ns := range stats.Namespaces {
				names = append(names, ns)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAMESPACE\tTOTAL\tLIVE\tEXPIRED\tLIVE%")
			for _, ns := range names {
				st := stats.Namespaces[ns]
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", ns, st.Total, st.Live, st.Expired, st.HitRate*100)
			}
			return w.Flush()
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.CleanupExpired(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired entries.\n", n)
			return nil
		},
	}

	invalidateCmd := &cobra.Command{
		Use:   "invalidate <stock-code>",
		Short: "Drop every cached entry of a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			removed, err := a.Invalidate(context.Background(), args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("Cache invalidated for %s.\n", args[0])
			} else {
				fmt.Printf("Nothing cached for %s.\n", args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(statsCmd, cleanupCmd, invalidateCmd)
	return cmd
}

func newWarmUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Preload price series of the popular stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.WarmUp(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Warmed %d price series.\n", n)
			return nil
		},
	}
}
