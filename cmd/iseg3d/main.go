package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sugarme/iseg3d/config"
)

func main() {
	if err := NewCLI().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewCLI creates the root command with all subcommands.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "iseg3d",
		Short:         "Volumetric U-Net segmentation with weighted Dice loss",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.Bool("cuda", false, "use CUDA if available")
	flags.Int64("batch", 0, "batch size")
	flags.Float64("lr", 0, "learning rate")
	flags.Int("epochs", 0, "number of epochs")
	flags.String("opt", "", "optimizer type: SGD or Adam")
	flags.String("layout", "", "data layout: channels_first or channels_last")
	flags.Bool("debug", false, "debug logging")

	rootCmd.AddCommand(
		newCheckCmd(),
		newTrainCmd(),
		newValidateCmd(),
		newVarsCmd(),
		newPreviewCmd(),
	)

	return rootCmd
}

// loadConfig reads --config and applies explicitly set flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("cuda") {
		cfg.Cuda, _ = flags.GetBool("cuda")
	}
	if flags.Changed("batch") {
		cfg.BatchSize, _ = flags.GetInt64("batch")
	}
	if flags.Changed("lr") {
		cfg.LR, _ = flags.GetFloat64("lr")
	}
	if flags.Changed("epochs") {
		cfg.Epochs, _ = flags.GetInt("epochs")
	}
	if flags.Changed("opt") {
		cfg.Optimizer, _ = flags.GetString("opt")
	}
	if flags.Changed("layout") {
		layout, _ := flags.GetString("layout")
		cfg.Layout = config.Layout(layout)
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
