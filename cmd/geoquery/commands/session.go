package commands

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved analysis sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sessionApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.Sessions.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			ui.Info("No saved sessions")
			return nil
		}
		for _, name := range names {
			ui.Info("  %s", name)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a saved session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sessionApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Sessions.Load(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := sessionApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Sessions.Delete(args[0]); err != nil {
			return err
		}
		ui.Success("Session %q deleted", args[0])
		return nil
	},
}

func sessionApp(ctx context.Context) (*app, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return newApp(ctx, cfg, logger, false, false)
}

func init() {
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}
