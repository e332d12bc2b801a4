package train

import (
	"fmt"
	"image/color"
	"io"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteHistoryCSV writes training history as CSV with a header row.
func WriteHistoryCSV(w io.Writer, history []EpochStats) error {
	if len(history) == 0 {
		return fmt.Errorf("WriteHistoryCSV: empty history")
	}

	df := dataframe.LoadStructs(history)
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// PlotHistory saves train and validation loss curves to an image file.
// The format follows the file extension (.png, .svg, .pdf).
func PlotHistory(history []EpochStats, filename string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Dice loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	trainPts := make(plotter.XYs, len(history))
	for i, h := range history {
		trainPts[i].X = float64(h.Epoch)
		trainPts[i].Y = h.TrainLoss
	}
	validated := validatedHistory(history)
	validPts := make(plotter.XYs, len(validated))
	for i, h := range validated {
		validPts[i].X = float64(h.Epoch)
		validPts[i].Y = h.ValidLoss
	}

	trainLine, err := plotter.NewLine(trainPts)
	if err != nil {
		return err
	}
	trainLine.Color = color.RGBA{B: 255, A: 255}
	p.Add(trainLine)
	p.Legend.Add("train", trainLine)

	// validation loss only exists for validated epochs
	if len(validPts) > 0 {
		validLine, err := plotter.NewLine(validPts)
		if err != nil {
			return err
		}
		validLine.Color = color.RGBA{R: 255, A: 255}
		p.Add(validLine)
		p.Legend.Add("valid", validLine)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}

// validatedHistory returns the epochs that ran validation.
func validatedHistory(history []EpochStats) []EpochStats {
	var out []EpochStats
	for _, h := range history {
		if h.Validated {
			out = append(out, h)
		}
	}
	return out
}
