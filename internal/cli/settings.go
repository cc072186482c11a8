package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chronodle/chronodle/internal/localstore"
)

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(opts *RootOptions) *cobra.Command {
	var statePath string

	cmd := &cobra.Command{
		Use:   "settings [theme|hearts] [value]",
		Short: "Show or change local player settings",
		Long: `Show or change local player settings.

Without arguments the current settings, best score and streak are printed.

Example:
  chronodle settings
  chronodle settings theme dark
  chronodle settings hearts false`,
		Args: cobra.MatchAll(cobra.MaximumNArgs(2), func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("missing value for %q", args[0])
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			if statePath == "" {
				statePath = opts.Config.StatePath
			}
			st, err := localstore.New(statePath)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if len(args) == 2 {
				switch args[0] {
				case "theme":
					err = st.SetTheme(ctx, args[1])
				case "hearts":
					var on bool
					on, err = strconv.ParseBool(args[1])
					if err == nil {
						err = st.SetHeartsEnabled(ctx, on)
					}
				default:
					err = fmt.Errorf("unknown setting %q: must be theme or hearts", args[0])
				}
				if err != nil {
					return err
				}
			}

			theme, err := st.Theme(ctx)
			if err != nil {
				return err
			}
			hearts, err := st.HeartsEnabled(ctx)
			if err != nil {
				return err
			}
			best, err := st.BestScore(ctx)
			if err != nil {
				return err
			}
			streak, err := st.Streak(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "theme:       %s\n", theme)
			fmt.Fprintf(out, "hearts:      %t\n", hearts)
			fmt.Fprintf(out, "best score:  %d\n", best)
			fmt.Fprintf(out, "streak:      %d (best %d, last played %s)\n", streak.Current, streak.Best, orNever(streak.LastPlayed))
			return nil
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "local state file, overrides CHRONODLE_STATE_PATH")
	return cmd
}

func orNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}
