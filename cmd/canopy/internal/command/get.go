package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/world-in-progress/canopy/node"
)

type GetOptions struct {
	ID       string
	Children bool
	Query    map[string]string
}

func NewGetCommand(cli *CLI) *cobra.Command {
	var opts GetOptions

	cmd := &cobra.Command{
		Use:   "get <type> [ancestor ids...]",
		Short: "Fetch a collection or a single resource",
		Long: "Fetch every resource of a type below its ancestors, or one of them with --id.\n\n" +
			"Examples:\n" +
			"  # List the pages of course 7\n" +
			"  canopy get page 7\n\n" +
			"  # Fetch one quiz and everything below it\n" +
			"  canopy get quiz 7 --id 12 --children\n",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunGet(cmd.Context(), cli, args[0], args[1:], opts)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "Fetch the single resource with this id")
	cmd.Flags().BoolVar(&opts.Children, "children", false, "Also fetch every descendant")
	cmd.Flags().StringToStringVarP(&opts.Query, "query", "q", nil, "Query parameters for listings (key=value)")
	return cmd
}

func RunGet(ctx context.Context, cli *CLI, kind string, ancestors []string, opts GetOptions) error {
	s, err := cli.session()
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.ID != "" {
		e, err := s.Graph.NewEntity(kind, ancestors, opts.ID)
		if err != nil {
			return err
		}
		if opts.Children {
			err = e.GetWithChildren(ctx)
		} else {
			err = e.Get(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to get %s %s: %w", kind, opts.ID, err)
		}
		return cli.printJSON(render(e, opts.Children))
	}

	c, err := s.Collection(kind, ancestors...)
	if err != nil {
		return err
	}
	query := make(map[string]any, len(opts.Query))
	for k, v := range opts.Query {
		if strings.HasSuffix(k, "[]") {
			query[strings.TrimSuffix(k, "[]")] = strings.Split(v, ",")
			continue
		}
		query[k] = v
	}
	if opts.Children {
		err = c.GetWithChildren(ctx, query)
	} else {
		err = c.Get(ctx, query)
	}
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", kind, err)
	}

	out := make([]map[string]any, 0, c.Len())
	for _, e := range c.Items() {
		out = append(out, render(e, opts.Children))
	}
	return cli.printJSON(out)
}

// render nests child collections under "_children" by relation name.
func render(e *node.Entity, withChildren bool) map[string]any {
	out := e.Fields()
	if !withChildren {
		return out
	}
	children := make(map[string]any)
	for _, c := range e.Children() {
		members := make([]map[string]any, 0, c.Len())
		for _, child := range c.Items() {
			members = append(members, render(child, true))
		}
		children[c.Name()] = members
	}
	if len(children) > 0 {
		out["_children"] = children
	}
	return out
}
