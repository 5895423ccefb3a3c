package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"chathub/internal/util"
	"chathub/services/chat/internal/bootstrap"
	"chathub/services/chat/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func NewChatctlCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Operate the chat service",
		Example: `  chatctl bot setup
  chatctl digest run
  chatctl digest trigger --url http://chat:8080`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.ConfigPath,
		"Path to the chat service config file")

	cmd.AddCommand(
		newBotCommand(opts),
		newDigestCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() (config.FileConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	util.InitLogger(cfg.LogLevel, "chatctl")
	return cfg, nil
}

// withRuntime builds the application from config, runs fn, and releases
// everything afterwards.
func (o *rootOptions) withRuntime(ctx context.Context, fn func(*bootstrap.Runtime) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func main() {
	if err := NewChatctlCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
