package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type RawOptions struct {
	Data string
}

func NewRawCommand(cli *CLI) *cobra.Command {
	var opts RawOptions

	cmd := &cobra.Command{
		Use:   "raw <method> <path>",
		Short: "Send one request to the Canvas API",
		Long: "Send one request to the Canvas API and print the decoded response.\n\n" +
			"Paths without a leading slash are taken relative to /api/v1.\n\n" +
			"Examples:\n" +
			"  canopy raw get courses/7/assignments\n" +
			"  canopy raw put courses/7/pages/home --data '{\"wiki_page[title]\": \"Home\"}'\n",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunRaw(cmd.Context(), cli, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON object sent as the body, or as the query for get and delete")
	return cmd
}

func RunRaw(ctx context.Context, cli *CLI, method, path string, opts RawOptions) error {
	var body map[string]any
	if opts.Data != "" {
		if err := json.Unmarshal([]byte(opts.Data), &body); err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}
	}

	s, err := cli.session()
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.Raw(ctx, method, path, body)
	if err != nil {
		return err
	}
	return cli.printJSON(out)
}
