package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	badgesRefresh bool
	badgesReset   bool
)

var badgesCmd = &cobra.Command{
	Use:   "badges",
	Short: "Show the badge counts for past reports and catches",
	RunE:  runBadges,
}

var viewedCmd = &cobra.Command{
	Use:   "viewed [reports|catches]",
	Short: "Mark a feature as viewed, clearing its new-item badge",
	Args:  cobra.ExactArgs(1),
	RunE:  runViewed,
}

func init() {
	badgesCmd.Flags().BoolVar(&badgesRefresh, "refresh", false, "Bypass the cache TTL")
	badgesCmd.Flags().BoolVar(&badgesReset, "reset", false, "Drop the cached snapshot first")
}

func runBadges(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if badgesReset {
		if err := a.ResetBadges(ctx); err != nil {
			return err
		}
	}
	snap, err := a.Badges.Read(ctx, badgesRefresh)
	if err != nil {
		logger.Warn("badge refresh failed, showing last snapshot")
	}
	return printJSON(cmd, snap)
}

func runViewed(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.MarkViewed(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as viewed\n", args[0])
	return nil
}
