// Command moments records short voice notes and hands them to the memories
// service for transcription.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/christophersiem/little-moments/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "moments.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "moments: %v\n", err)
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand. It is filled in by the root
// command's PersistentPreRunE.
type cli struct {
	configPath string
	configSet  bool

	cfg    *config.Config
	log    *slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "moments",
		Short:         "Record little moments and save them as transcripts",
		Long:          "A recorder for short spoken notes. Recordings are uploaded to the memories service, which transcribes, titles and tags them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.configSet = cmd.Flags().Changed("config")
			return c.init(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closer != nil {
				return c.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(
		newRecordCmd(c),
		newListCmd(c),
		newShowCmd(c),
		newEditCmd(c),
		newServeCmd(c),
		newDoctorCmd(c),
		newVersionCmd(),
	)
	return root
}

// init loads the configuration and installs the default logger. A missing
// config file is only an error when --config was given explicitly.
func (c *cli) init(stderr io.Writer) error {
	cfg, err := config.Load(c.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !c.configSet:
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return err
		}
		c.configPath = ""
	case err != nil:
		return err
	}
	c.cfg = cfg

	c.level = new(slog.LevelVar)
	c.level.Set(slogLevel(cfg.Server.LogLevel))
	c.log, c.closer = newLogger(cfg.Log, c.level, stderr)
	slog.SetDefault(c.log)

	c.log.Debug("moments: configuration loaded",
		"config", c.configPath,
		"api", cfg.API.BaseURL,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "moments %s\n", version)
			return nil
		},
	}
}
