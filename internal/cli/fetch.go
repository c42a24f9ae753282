package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/mensa-client/pkg/pagination"
	"github.com/Sternrassler/mensa-client/pkg/request"
)

// fetchOutput is printed by the fetch command.
type fetchOutput struct {
	URL     string          `json:"url"`
	Headers request.Headers `json:"headers"`
	Body    json.RawMessage `json:"body,omitempty"`
	Text    *string         `json:"text,omitempty"`
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		ttl time.Duration
		raw bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a single resource through the cache",
		Long: `Fetch returns the cached payload when it is younger than --ttl, revalidates
it with the upstream otherwise, and downloads it on a miss.

Example:
  mensa fetch https://openmensa.org/api/v2/canteens/1
  mensa fetch https://openmensa.org/api/v2/canteens/1 --ttl 0 --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			text, headers, err := d.client.Fetch(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}

			if raw {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			}

			out := fetchOutput{URL: args[0], Headers: headers}
			if json.Valid([]byte(text)) {
				out.Body = json.RawMessage(text)
			} else {
				out.Text = &text
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "maximum age of a cached entry before it is revalidated")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the payload only")
	return cmd
}

func newPagesCmd(a *app) *cobra.Command {
	var (
		ttl      time.Duration
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "pages <url>",
		Short: "Fetch every page of a paginated collection",
		Long: `Pages follows the Link rel="next" header from the given URL until the last
page, concatenating the JSON array of every page. Each page goes through
the cache individually.

With --parallel N the page count is taken from X-Total-Pages on the first
page and the remaining pages are fetched with up to N concurrent requests.

Example:
  mensa pages https://openmensa.org/api/v2/canteens
  mensa pages https://openmensa.org/api/v2/canteens --parallel 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 0 {
				return usageError("--parallel must not be negative")
			}

			d, err := a.dependencies(cmd.Context())
			if err != nil {
				return err
			}

			var items []json.RawMessage
			if parallel > 0 {
				cfg := pagination.DefaultConfig()
				cfg.MaxConcurrency = parallel
				items, err = pagination.FetchAll[json.RawMessage](cmd.Context(), pagination.NewBatchFetcher(d.client, cfg), args[0], ttl)
			} else {
				items, err = pagination.Collect[json.RawMessage](cmd.Context(), d.client, args[0], ttl)
			}
			if err != nil {
				return err
			}

			if items == nil {
				items = []json.RawMessage{}
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "maximum age of a cached page before it is revalidated")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "fetch pages concurrently using X-Total-Pages (0 = follow links sequentially)")
	return cmd
}
