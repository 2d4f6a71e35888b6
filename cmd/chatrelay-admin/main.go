// ABOUTME: Admin CLI for chatrelay conversation storage and live chat
// ABOUTME: Storage commands open the configured backend directly; chat talks to a running server

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/chatrelay/internal/config"
	"github.com/2389/chatrelay/internal/store"
)

const banner = `
       _           _            _                 _           _
   ___| |__   __ _| |_ _ __ ___| | __ _ _   _    __ _  __| |_ __ ___ (_)_ __
  / __| '_ \ / _' | __| '__/ _ \ |/ _' | | | |  / _' |/ _' | '_ ' _ \| | '_ \
 | (__| | | | (_| | |_| | |  __/ | (_| | |_| | | (_| | (_| | | | | | | | | | |
  \___|_| |_|\__,_|\__|_|  \___|_|\__,_|\__, |  \__,_|\__,_|_| |_| |_|_|_| |_|
                                        |___/
`

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	driver     string
	path       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatrelay-admin",
		Short:         "Inspect and maintain chatrelay conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			color.New(color.FgCyan).Fprint(cmd.OutOrStdout(), banner)
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "storage driver override (file or sqlite)")
	root.PersistentFlags().StringVar(&opts.path, "path", "", "storage path override")

	root.AddCommand(
		newListCmd(opts),
		newShowCmd(opts),
		newRenameCmd(opts),
		newDeleteCmd(opts),
		newReindexCmd(opts),
		newChatCmd(opts),
	)
	return root
}

// loadConfig reads the config file, using defaults when it does not exist,
// and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.driver != "" {
		cfg.Storage.Driver = o.driver
	}
	if o.path != "" {
		cfg.Storage.Path = o.path
	}
	return cfg, nil
}

// openStore opens the configured backend. The caller closes it.
func (o *options) openStore() (*store.ConversationStore, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := store.OpenBackend(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store.NewConversationStore(backend, nil), nil
}
