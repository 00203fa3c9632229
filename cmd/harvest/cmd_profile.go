package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"harvestreport/internal/prefs"
)

// profileCmd shows the saved angler preferences
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the saved profile, license and harvest area",
	RunE:  runProfileShow,
}

var profileSetCmd = &cobra.Command{
	Use:   "set [profile.json]",
	Short: "Overwrite the saved preferences from JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfileSet,
}

func init() {
	profileCmd.AddCommand(profileSetCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Prefs.Load(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, s)
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open profile: %w", err)
		}
		defer f.Close()
		r = f
	}
	var s prefs.Saved
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Prefs.Store(ctx, s); err != nil {
		return err
	}
	return printJSON(cmd, s)
}
