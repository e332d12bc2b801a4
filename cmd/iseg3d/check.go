package main

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/metric"
	"github.com/sugarme/iseg3d/unet"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run zeros input through the model and loss, report shapes and loss",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	shape, loss, err := checkModel(cfg)
	if err != nil {
		return err
	}
	logger.Info("check", "logits", fmt.Sprint(shape), "dice_loss", loss)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("loss is not finite: %v", loss)
	}
	return nil
}

// checkModel builds the model and forwards zeros images, zeros ground truth and
// unit weights of the configured batch and volume size.
func checkModel(cfg *config.Config) ([]int64, float64, error) {
	device := cfg.Device()
	vs := nn.NewVarStore(device)
	net := unet.NewUNet3D(vs.Root(), cfg)
	crit := metric.NewCriterion(cfg)

	shp := cfg.Shape
	imageSize := []int64{cfg.BatchSize, cfg.InChannels, shp.D, shp.H, shp.W}
	if cfg.Layout == config.ChannelsLast {
		imageSize = []int64{cfg.BatchSize, shp.D, shp.H, shp.W, cfg.InChannels}
	}
	image := ts.MustZeros(imageSize, gotch.Float, device)
	gt := ts.MustZeros([]int64{cfg.BatchSize, shp.D, shp.H, shp.W, 1}, gotch.Float, device)
	weight := ts.MustOnes([]int64{cfg.BatchSize, shp.D, shp.H, shp.W, 1}, gotch.Float, device)
	defer image.MustDrop()
	defer gt.MustDrop()
	defer weight.MustDrop()

	var (
		size    []int64
		lossVal float64
		err     error
	)
	ts.NoGrad(func() {
		logits := net.ForwardT(image, false)
		size = logits.MustSize()
		var loss *ts.Tensor
		loss, err = crit.Loss(logits, weight, gt)
		logits.MustDrop()
		if err == nil {
			lossVal = loss.Float64Values()[0]
			loss.MustDrop()
		}
	})

	return size, lossVal, err
}

func newVarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vars",
		Short: "List model variables sorted by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			vs := nn.NewVarStore(gotch.CPU)
			unet.NewUNet3D(vs.Root(), cfg)
			printVars(cmd, vs)
			return nil
		},
	}
}

// printVars print variables sorted by name
func printVars(cmd *cobra.Command, vs *nn.VarStore) {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	var total int64
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		size := vars[n].MustSize()
		numel := int64(1)
		for _, d := range size {
			numel *= d
		}
		total += numel
		rows = append(rows, []string{n, fmt.Sprint(size), fmt.Sprint(numel)})
	}

	table := newTable(cmd.OutOrStdout(), "NAME", "SHAPE", "PARAMS")
	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "total params: %d\n", total)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}
