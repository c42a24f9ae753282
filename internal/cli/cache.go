package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// entryOutput is one line of cache list.
type entryOutput struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	Integrity string    `json:"integrity"`
	WrittenAt time.Time `json:"written_at"`
	Age       string    `json:"age"`
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the cache",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			entries := []entryOutput{}
			for entry, err := range d.client.Entries(cmd.Context()) {
				if err != nil {
					return err
				}
				entries = append(entries, entryOutput{
					Key:       entry.Key,
					Size:      entry.Size,
					Integrity: entry.Integrity,
					WrittenAt: entry.WrittenAt().UTC(),
					Age:       entry.Age(now).Truncate(time.Second).String(),
				})
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.client.ClearCache(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return err
		},
	}

	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}
