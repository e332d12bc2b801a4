package metric

import (
	"errors"
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/config"
)

// DiceEpsilon keeps the per-class score finite for classes absent from both
// prediction and ground truth.
const DiceEpsilon = 1e-5

var (
	// ErrBatchSizeMismatch is returned when the batch dimension of the inputs
	// disagrees with each other or with the configured batch size.
	ErrBatchSizeMismatch = errors.New("batch size mismatch")
	// ErrShapeMismatch is returned for inputs of unexpected rank or class count.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Dice calculates the multi-class soft Dice loss with squared prediction in
// the denominator.
//
// prediction: [nvoxel, nclass] class probabilities (no softmax is applied here).
// groundTruth: [nvoxel] class indices.
// weight: [nvoxel] voxel weights, or nil for weight 1 everywhere.
//
// Ref. Milletari, F., Navab, N., & Ahmadi, S. A. (2016) V-net: Fully convolutional neural
// networks for volumetric medical image segmentation. 3DV 2016
// http://campar.in.tum.de/pub/milletari2016Vnet/milletari2016Vnet.pdf
func Dice(prediction, groundTruth, weight *ts.Tensor) *ts.Tensor {
	pred := prediction.MustTotype(gotch.Float, false)
	nclass := pred.MustSize()[1]

	// dense one-hot: [nvoxel, nclass]
	gt := groundTruth.MustTotype(gotch.Int64, false)
	oneHot := gt.MustOneHot(nclass, true).MustTotype(gotch.Float, true)

	predSq := pred.MustMul(pred, false)
	intersect := oneHot.MustMul(pred, false)
	pred.MustDrop()

	if weight != nil {
		// broadcast [nvoxel, 1] over classes
		w := weight.MustTotype(gotch.Float, false).MustReshape([]int64{-1, 1}, true)
		intersect = intersect.MustMul(w, true)
		predSq = predSq.MustMul(w, true)
		oneHot = oneHot.MustMul(w, true)
		w.MustDrop()
	}

	dims := []int64{0}
	numerator := intersect.MustSum1(dims, false, gotch.Float, true).MustMul1(ts.FloatScalar(2.0), true)
	predSum := predSq.MustSum1(dims, false, gotch.Float, true)
	gtSum := oneHot.MustSum1(dims, false, gotch.Float, true)
	denominator := predSum.MustAdd(gtSum, true).MustAdd1(ts.FloatScalar(DiceEpsilon), true)
	gtSum.MustDrop()

	score := numerator.MustDiv(denominator, true)
	denominator.MustDrop()

	// 1 - mean(score)
	mean := score.MustMean(gotch.Float, true)
	return mean.MustMul1(ts.FloatScalar(-1), true).MustAdd1(ts.FloatScalar(1), true)
}

// Criterion computes the batch-mean weighted Dice loss of channel-last logits.
type Criterion struct {
	numClass  int64
	batchSize int64
}

// NewCriterion creates Criterion from config.
func NewCriterion(cfg *config.Config) *Criterion {
	return &Criterion{
		numClass:  cfg.NumClass,
		batchSize: cfg.BatchSize,
	}
}

// Loss returns the mean over the batch of the per-sample weighted Dice loss.
//
// logits: [B D H W nclass]
// weight: [B D H W] or [B D H W 1], may be nil
// gt: [B D H W] or [B D H W 1]
//
// The batch is iterated over the leading dimension of logits which must match
// the configured batch size.
func (c *Criterion) Loss(logits, weight, gt *ts.Tensor) (*ts.Tensor, error) {
	size := logits.MustSize()
	if len(size) != 5 || size[4] != c.numClass {
		return nil, fmt.Errorf("%w: expected logits [B D H W %v]. Got %v", ErrShapeMismatch, c.numClass, size)
	}

	batch := size[0]
	if c.batchSize > 0 && batch != c.batchSize {
		return nil, fmt.Errorf("%w: configured %v, logits have %v", ErrBatchSizeMismatch, c.batchSize, batch)
	}
	if gtBatch := gt.MustSize()[0]; gtBatch != batch {
		return nil, fmt.Errorf("%w: logits have %v, ground truth has %v", ErrBatchSizeMismatch, batch, gtBatch)
	}
	if weight != nil {
		if wBatch := weight.MustSize()[0]; wBatch != batch {
			return nil, fmt.Errorf("%w: logits have %v, weight has %v", ErrBatchSizeMismatch, batch, wBatch)
		}
	}

	losses := make([]ts.Tensor, 0, batch)
	for idx := int64(0); idx < batch; idx++ {
		f := logits.MustSelect(0, idx, false).MustReshape([]int64{-1, c.numClass}, true)
		// reshape to [nvoxel] drops the trailing singleton dimension
		g := gt.MustSelect(0, idx, false).MustReshape([]int64{-1}, true)
		var w *ts.Tensor
		if weight != nil {
			w = weight.MustSelect(0, idx, false).MustReshape([]int64{-1}, true)
		}

		prob := f.MustSoftmax(-1, gotch.Float, true)
		loss := Dice(prob, g, w)
		prob.MustDrop()
		g.MustDrop()
		if w != nil {
			w.MustDrop()
		}
		losses = append(losses, *loss)
	}

	stacked := ts.MustStack(losses, 0)
	for _, l := range losses {
		l.MustDrop()
	}

	return stacked.MustMean(gotch.Float, true), nil
}
