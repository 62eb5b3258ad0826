// Package cmd implements the chatfs command line, a thin cobra/viper layer
// over internal/cfg and internal/mount, mirroring the upstream gcsfuse
// cmd/root.go.
package cmd

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatfs/chatfs/internal/cfg"
	"github.com/chatfs/chatfs/internal/mount"
)

var cfgFile string

// NewRootCommand builds the chatfs root command. newClient is injected so
// that the concrete messaging backend lives outside this package's import
// graph -- cmd only knows about the mount.ClientFactory signature.
func NewRootCommand(newClient mount.ClientFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatfs [flags] mount_point",
		Short: "Mount a chat conversation as a local filesystem",
		Long: `chatfs is a FUSE adapter that represents a remote chat
conversation as a POSIX filesystem: each file or directory is one message
whose text is a JSON record of its metadata, a written file's bytes are
attached to that same message, and a single [META] message indexes them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			config, err := resolveConfig(args[0])
			if err != nil {
				return err
			}

			mfs, err := mount.Mount(c.Context(), config, newClient)
			if err != nil {
				return fmt.Errorf("mount: %w", err)
			}

			return mfs.Join(c.Context())
		},
	}

	flags := root.Flags()
	if err := cfg.BindFlags(flags); err != nil {
		panic(fmt.Errorf("cmd: bind flags: %w", err))
	}
	root.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")

	return root
}

func resolveConfig(mountPoint string) (cfg.Config, error) {
	config := cfg.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return cfg.Config{}, fmt.Errorf("cmd: read config file: %w", err)
		}
	}

	// Config's fields carry yaml tags only, so decode by those names.
	if err := viper.Unmarshal(&config, viper.DecodeHook(cfg.DecodeHook()), func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return cfg.Config{}, fmt.Errorf("cmd: unmarshal config: %w", err)
	}
	config.MountPoint = mountPoint

	if err := cfg.Validate(config); err != nil {
		return cfg.Config{}, err
	}
	return config, nil
}

// Execute runs the chatfs CLI with newClient as the messaging backend
// constructor, returning any error instead of exiting the process so
// main.go controls the exit path.
func Execute(ctx context.Context, newClient mount.ClientFactory) error {
	root := NewRootCommand(newClient)
	root.SetContext(ctx)
	return root.Execute()
}
