package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show today's AI usage against the quota limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := context.Background()
			snap, err := a.Usage(ctx, userID)
			if err != nil {
				return err
			}
			limits := a.Limits()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WINDOW\tUSED\tLIMIT")
			fmt.Fprintf(w, "day requests\t%d\t%d\n", snap.Daily.Requests, limits.DailyRequests)
			fmt.Fprintf(w, "minute requests\t%d\t%d\n", snap.Minute.Requests, limits.MinuteRequests)
			fmt.Fprintf(w, "minute tokens\t%d\t%d\n", snap.Minute.Tokens, limits.MinuteTokens)
			if userID != "" {
				fmt.Fprintf(w, "user day requests\t%d\t%d\n", snap.User.Requests, limits.UserDailyRequests)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if userID != "" {
				status, err := a.CheckUsage(ctx, userID)
				if err != nil {
					return err
				}
				if status.Allowed {
					fmt.Printf("\nNext request: allowed (%d remaining today)\n", status.Remaining)
				} else {
					fmt.Printf("\nNext request: denied (%s)\n", status.Reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "also show this user's counter and admission")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show daily AI usage history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			history, err := a.UsageHistory(context.Background(), days)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tREQUESTS\tESTIMATED TOKENS\tACTUAL TOKENS")
			for _, d := range history {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", d.Date, d.Requests, d.EstimatedTokens, d.ActualTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "number of days to show")
	return cmd
}
