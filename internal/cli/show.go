package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trade-sync/internal/app"
)

var (
	showGroup string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked groups, or recent records for one group",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Group: showGroup,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showGroup, "group", "", "Group name to list records for (omit for groups overview)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
