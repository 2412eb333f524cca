package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/core/logger"
	"github.com/world-in-progress/canopy/model"
	"github.com/world-in-progress/canopy/node/nodeschema"
	"github.com/world-in-progress/canopy/scene"
)

// CLI is the state shared by every subcommand.
type CLI struct {
	Out io.Writer

	configFile  string
	descriptors string
	logLevel    string
}

func NewCLI(out io.Writer) *CLI {
	return &CLI{Out: out}
}

func NewRootCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canopy",
		Short: "canopy reads and writes the Canvas LMS resource tree",
		Long: "canopy walks a Canvas course as a tree of resources.\n\n" +
			"The API token is read from CANVAS_API_TOKEN or canvas.token in the config file.\n",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cli.configFile != "" {
				viper.SetConfigFile(cli.configFile)
			}
			if cli.logLevel != "" {
				logger.SetLevel(cli.logLevel)
			}
			return nil
		},
	}

	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVarP(&cli.configFile, "config", "c", "", "Path to a config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&cli.descriptors, "descriptors", "", "Path to a YAML file of extra resource descriptors")
	cmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return cmd
}

// AddCommands registers all subcommands to the root command.
func AddCommands(root *cobra.Command, cli *CLI) {
	root.AddCommand(
		NewGetCommand(cli),
		NewMirrorCommand(cli),
		NewRawCommand(cli),
	)
}

func Execute() {
	cli := NewCLI(os.Stdout)
	root := NewRootCommand(cli)
	AddCommands(root, cli)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session loads the client config and the optional extra descriptors.
func (cli *CLI) session() (*scene.Session, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	if cli.logLevel == "" && cfg.LogLevel != "" {
		logger.SetLevel(cfg.LogLevel)
	}

	var extra []nodeschema.Descriptor
	if cli.descriptors != "" {
		if extra, err = model.LoadDescriptors(cli.descriptors); err != nil {
			return nil, err
		}
	}
	return scene.NewSession(cfg, extra...)
}

func (cli *CLI) printJSON(v any) error {
	enc := json.NewEncoder(cli.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
