package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/db"
	"github.com/world-in-progress/canopy/db/memory"
	"github.com/world-in-progress/canopy/db/mongo"
	"github.com/world-in-progress/canopy/scene"
)

type MirrorOptions struct {
	Depth  int
	DryRun bool
}

func NewMirrorCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Export resources into a database",
	}
	cmd.AddCommand(NewMirrorCourseCommand(cli))
	return cmd
}

func NewMirrorCourseCommand(cli *CLI) *cobra.Command {
	opts := MirrorOptions{Depth: 1}

	cmd := &cobra.Command{
		Use:   "course <id>",
		Short: "Fetch a course with its descendants and write them to MongoDB",
		Long: "Fetch a course with its descendants and write them to MongoDB,\n" +
			"one collection per resource type. Connection settings come from mongo.* in the\n" +
			"config file or MONGO_URI, MONGO_DATABASE and MONGO_TIMEOUT.\n",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunMirrorCourse(cmd.Context(), cli, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Depth, "depth", "d", opts.Depth, "Levels of descendants to export")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Write to an in-memory store and only print the counts")
	return cmd
}

func RunMirrorCourse(ctx context.Context, cli *CLI, id string, opts MirrorOptions) error {
	if opts.Depth < 0 {
		return fmt.Errorf("depth must be non-negative, got: %d", opts.Depth)
	}

	s, err := cli.session()
	if err != nil {
		return err
	}
	defer s.Close()

	var repo db.Repository
	if opts.DryRun {
		repo = memory.NewMemoryRepository()
	} else {
		client, err := mongo.Connect(ctx, config.LoadMongoConfig())
		if err != nil {
			return err
		}
		defer client.Close()
		repo = mongo.NewMongoRepository(client)
	}

	course, err := s.Course(id)
	if err != nil {
		return err
	}
	if err := course.GetWithChildren(ctx); err != nil {
		return fmt.Errorf("failed to fetch course %s: %w", id, err)
	}

	result, err := scene.MirrorEntity(ctx, repo, course, opts.Depth)
	if result != nil {
		if printErr := cli.printJSON(result); printErr != nil {
			return printErr
		}
	}
	return err
}
