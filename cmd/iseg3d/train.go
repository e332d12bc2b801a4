package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/data"
	"github.com/sugarme/iseg3d/train"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model on a manifest of TIFF volumes",
		Args:  cobra.NoArgs,
		RunE:  runTrain,
	}

	cmd.Flags().String("manifest", "", "CSV manifest with id, images, label columns")
	cmd.Flags().Float64("valid-fraction", 0.2, "fraction of records held out for validation")
	cmd.Flags().Int64("seed", 42, "split seed")
	cmd.Flags().String("resume", "", "checkpoint to load before training")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	manifest, _ := cmd.Flags().GetString("manifest")
	validFraction, _ := cmd.Flags().GetFloat64("valid-fraction")
	seed, _ := cmd.Flags().GetInt64("seed")
	resume, _ := cmd.Flags().GetString("resume")

	records, err := data.ReadManifest(manifest)
	if err != nil {
		return err
	}
	trainRecs, validRecs := data.Split(records, validFraction, seed)
	logger.Info("dataset", "train", len(trainRecs), "valid", len(validRecs))

	trainDL, err := newLoader(trainRecs, cfg, true)
	if err != nil {
		return err
	}
	var validDL *data.DataLoader
	if len(validRecs) > 0 {
		validDL, err = newLoader(validRecs, cfg, false)
		if err != nil {
			return err
		}
	}

	tr, err := train.New(cfg, logger)
	if err != nil {
		return err
	}
	if resume != "" {
		if err := tr.LoadWeights(resume, true); err != nil {
			return fmt.Errorf("resume from %q: %w", resume, err)
		}
		logger.Info("resumed", "weights", resume)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fitErr := tr.Fit(ctx, trainDL, validDL)
	if len(tr.History) > 0 {
		if err := saveHistory(tr, cfg); err != nil {
			logger.Error("save history", "error", err)
		}
	}
	if errors.Is(fitErr, context.Canceled) {
		logger.Warn("training interrupted", "epochs", len(tr.History))
		return nil
	}

	return fitErr
}

// newLoader builds a loader over volume records. Training batches are shuffled
// and incomplete ones dropped.
func newLoader(records []data.Record, cfg *config.Config, training bool) (*data.DataLoader, error) {
	ds := data.NewVolumeDataset(records, cfg)
	s, err := data.NewBatchSampler(ds.Len(), int(cfg.BatchSize), training, training)
	if err != nil {
		return nil, err
	}
	return data.NewDataLoader(ds, s, cfg)
}

func saveHistory(tr *train.Trainer, cfg *config.Config) error {
	dir := filepath.Join(cfg.CheckpointDir, tr.RunID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "history.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	if err := train.WriteHistoryCSV(f, tr.History); err != nil {
		return err
	}
	return train.PlotHistory(tr.History, filepath.Join(dir, "loss.png"))
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Evaluate saved weights on every record of a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			manifest, _ := cmd.Flags().GetString("manifest")
			weights, _ := cmd.Flags().GetString("weights")

			records, err := data.ReadManifest(manifest)
			if err != nil {
				return err
			}
			dl, err := newLoader(records, cfg, false)
			if err != nil {
				return err
			}

			tr, err := train.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := tr.LoadWeights(weights, false); err != nil {
				return err
			}

			loss, dice, err := tr.Evaluate(cmd.Context(), dl)
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout(), "CLASS", "DICE")
			for c, d := range dice {
				table.Append([]string{fmt.Sprint(c), fmt.Sprintf("%0.4f", d)})
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "dice loss: %0.4f\n", loss)
			return nil
		},
	}

	cmd.Flags().String("manifest", "", "CSV manifest with id, images, label columns")
	cmd.Flags().String("weights", "", "checkpoint file")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("weights")

	return cmd
}

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Save one depth slice of a record with its label map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			manifest, _ := cmd.Flags().GetString("manifest")
			idx, _ := cmd.Flags().GetInt("index")
			slice, _ := cmd.Flags().GetInt64("slice")
			out, _ := cmd.Flags().GetString("out")

			records, err := data.ReadManifest(manifest)
			if err != nil {
				return err
			}
			if idx < 0 || idx >= len(records) {
				return fmt.Errorf("index %d out of range [0, %d)", idx, len(records))
			}

			s, err := data.NewVolumeDataset(records, cfg).Item(idx)
			if err != nil {
				return err
			}
			return data.SavePreview(s, cfg.Shape, slice, out)
		},
	}

	cmd.Flags().String("manifest", "", "CSV manifest with id, images, label columns")
	cmd.Flags().Int("index", 0, "record index")
	cmd.Flags().Int64("slice", 0, "depth slice")
	cmd.Flags().String("out", "preview.png", "output image")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
