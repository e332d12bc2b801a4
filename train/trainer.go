package train

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"gonum.org/v1/gonum/stat"

	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/data"
	"github.com/sugarme/iseg3d/metric"
	"github.com/sugarme/iseg3d/unet"
)

// EpochStats is one row of training history.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	Validated bool
	ValidLoss float64
	Dice      float64 // mean foreground hard Dice
	Minutes   float64
}

// Trainer trains UNet3D with the weighted Dice criterion.
type Trainer struct {
	cfg     *config.Config
	vs      *nn.VarStore
	net     *unet.UNet3D
	crit    *metric.Criterion
	vcrit   *metric.Criterion
	opt     *nn.Optimizer
	logger  *slog.Logger
	runID   string
	History []EpochStats
}

// New builds the model variables on the configured device and the optimizer.
func New(cfg *config.Config, logger *slog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vs := nn.NewVarStore(cfg.Device())
	net := unet.NewUNet3D(vs.Root(), cfg)

	var (
		opt *nn.Optimizer
		err error
	)
	switch cfg.Optimizer {
	case "SGD":
		opt, err = nn.DefaultSGDConfig().Build(vs, cfg.LR)
	case "Adam":
		opt, err = nn.DefaultAdamConfig().Build(vs, cfg.LR)
	default:
		err = fmt.Errorf("Unspecified/Invalid Optimizer option: '%v'.", cfg.Optimizer)
	}
	if err != nil {
		return nil, err
	}

	// validation batches may be incomplete
	vcfg := *cfg
	vcfg.BatchSize = 0

	return &Trainer{
		cfg:    cfg,
		vs:     vs,
		net:    net,
		crit:   metric.NewCriterion(cfg),
		vcrit:  metric.NewCriterion(&vcfg),
		opt:    opt,
		logger: logger,
		runID:  uuid.NewString()[:8],
	}, nil
}

// Net returns the model.
func (t *Trainer) Net() *unet.UNet3D {
	return t.net
}

// VarStore returns the model variable store.
func (t *Trainer) VarStore() *nn.VarStore {
	return t.vs
}

// RunID identifies the checkpoint directory of this trainer.
func (t *Trainer) RunID() string {
	return t.runID
}

// LoadWeights loads a checkpoint. With partial, variables missing from the file
// keep their initial values and are reported.
func (t *Trainer) LoadWeights(path string, partial bool) error {
	if !partial {
		return t.vs.Load(path)
	}

	missing, err := t.vs.LoadPartial(path)
	if err != nil {
		return err
	}
	for _, m := range missing {
		t.logger.Warn("missing variable", "name", m)
	}
	return nil
}

// Step runs forward, loss and one optimizer step on a batch.
func (t *Trainer) Step(b *data.Batch) (float64, error) {
	logits := t.net.ForwardT(b.Image, true)
	loss, err := t.crit.Loss(logits, b.Weight, b.Label)
	logits.MustDrop()
	if err != nil {
		return 0, err
	}

	t.opt.BackwardStep(loss)
	lossVal := loss.Float64Values()[0]
	loss.MustDrop()

	return lossVal, nil
}

// Evaluate returns the mean loss and mean per-class hard Dice over a loader pass.
func (t *Trainer) Evaluate(ctx context.Context, dl *data.DataLoader) (float64, []float64, error) {
	dl.Reset()

	var losses []float64
	dices := make([][]float64, t.cfg.NumClass)
	for dl.HasNext() {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		b, err := dl.Next(ctx)
		if err != nil {
			return 0, nil, err
		}

		var (
			lossVal float64
			scores  []float64
		)
		ts.NoGrad(func() {
			logits := t.net.ForwardT(b.Image, false)
			var loss *ts.Tensor
			loss, err = t.vcrit.Loss(logits, b.Weight, b.Label)
			if err == nil {
				lossVal = loss.Float64Values()[0]
				loss.MustDrop()
			}
			if err == nil {
				scores, err = metric.DiceScore(logits, b.Label, t.cfg.NumClass)
			}
			logits.MustDrop()
		})
		b.Drop()
		if err != nil {
			return 0, nil, err
		}

		losses = append(losses, lossVal)
		for c, s := range scores {
			dices[c] = append(dices[c], s)
		}
	}
	if len(losses) == 0 {
		return 0, nil, fmt.Errorf("Evaluate: no validation batches")
	}

	dice := make([]float64, t.cfg.NumClass)
	for c := range dice {
		dice[c] = stat.Mean(dices[c], nil)
	}

	return stat.Mean(losses, nil), dice, nil
}

// Fit trains for the configured number of epochs. validDL may be nil.
// The best validation Dice checkpoint is kept as best.gt.
func (t *Trainer) Fit(ctx context.Context, trainDL, validDL *data.DataLoader) error {
	bestDice := -1.0
	for e := 0; e < t.cfg.Epochs; e++ {
		start := time.Now()
		trainDL.Reset()

		var losses []float64
		for trainDL.HasNext() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := trainDL.Next(ctx)
			if err != nil {
				return err
			}
			lossVal, err := t.Step(b)
			b.Drop()
			if err != nil {
				return err
			}
			t.logger.Debug("batch", "epoch", e, "batch", len(losses), "dice_loss", lossVal)
			losses = append(losses, lossVal)
		}
		if len(losses) == 0 {
			return fmt.Errorf("Fit: no training batches (dataset smaller than batch size %v?)", t.cfg.BatchSize)
		}

		stats := EpochStats{
			Epoch:     e,
			TrainLoss: stat.Mean(losses, nil),
		}

		validate := validDL != nil && t.cfg.ValidateEvery > 0 && (e+1)%t.cfg.ValidateEvery == 0
		if validate {
			vloss, dice, err := t.Evaluate(ctx, validDL)
			if err != nil {
				return err
			}
			stats.Validated = true
			stats.ValidLoss = vloss
			stats.Dice = foregroundMean(dice)
		}
		stats.Minutes = time.Since(start).Minutes()
		t.History = append(t.History, stats)

		t.logger.Info("epoch",
			"epoch", e,
			"train_loss", fmt.Sprintf("%6.4f", stats.TrainLoss),
			"valid_loss", fmt.Sprintf("%6.4f", stats.ValidLoss),
			"dice", fmt.Sprintf("%6.4f", stats.Dice),
			"minutes", fmt.Sprintf("%0.2f", stats.Minutes))

		if _, err := t.SaveCheckpoint(fmt.Sprintf("epoch-%02d.gt", e)); err != nil {
			return err
		}
		if validate && stats.Dice > bestDice {
			bestDice = stats.Dice
			if _, err := t.SaveCheckpoint("best.gt"); err != nil {
				return err
			}
		}
	}

	return nil
}

// SaveCheckpoint saves model variables to CheckpointDir/<run-id>/name.
func (t *Trainer) SaveCheckpoint(name string) (string, error) {
	dir := filepath.Join(t.cfg.CheckpointDir, t.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	weightFile := filepath.Join(dir, name)
	if err := t.vs.Save(weightFile); err != nil {
		return "", err
	}
	t.logger.Debug("checkpoint saved", "path", weightFile)

	return weightFile, nil
}

// foregroundMean averages Dice over classes 1..n, class 0 being background.
func foregroundMean(dice []float64) float64 {
	if len(dice) < 2 {
		return stat.Mean(dice, nil)
	}
	return stat.Mean(dice[1:], nil)
}
