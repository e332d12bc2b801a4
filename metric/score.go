package metric

import (
	"errors"
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// ErrLabelOutOfRange is returned for ground truth classes outside [0, nclass).
var ErrLabelOutOfRange = errors.New("label out of range")

// DiceScore calculates per-class hard Dice coefficient 2|A∩B|/(|A|+|B|) between
// the argmax of channel-last logits [... nclass] and ground truth class indices.
// A class absent from both prediction and ground truth scores 1.
func DiceScore(logits, gt *ts.Tensor, numClass int64) ([]float64, error) {
	size := logits.MustSize()
	if len(size) == 0 || size[len(size)-1] != numClass {
		return nil, fmt.Errorf("%w: expected logits [... %v]. Got %v", ErrShapeMismatch, numClass, size)
	}

	g := gt.MustReshape([]int64{-1}, false).MustTotype(gotch.Int64, true)
	defer g.MustDrop()

	nvoxel := g.MustSize()[0]
	if nvoxel*numClass != numel(size) {
		return nil, fmt.Errorf("%w: logits %v, ground truth of %v voxels", ErrShapeMismatch, size, nvoxel)
	}
	if nvoxel > 0 {
		lo := g.MustMin(false)
		hi := g.MustMax(false)
		loVal, hiVal := lo.Int64Values()[0], hi.Int64Values()[0]
		lo.MustDrop()
		hi.MustDrop()
		if loVal < 0 || hiVal >= numClass {
			return nil, fmt.Errorf("%w: ground truth in [%v, %v], expected [0, %v)", ErrLabelOutOfRange, loVal, hiVal, numClass)
		}
	}

	// [nvoxel, nclass] one-hot of predicted and true classes
	pred := logits.MustReshape([]int64{-1, numClass}, false).MustArgmax([]int64{-1}, false, true)
	predOH := pred.MustOneHot(numClass, true).MustTotype(gotch.Double, true)
	gtOH := g.MustOneHot(numClass, false).MustTotype(gotch.Double, true)

	overlap := sumVoxels(predOH.MustMul(gtOH, false))
	predCount := sumVoxels(predOH)
	gtCount := sumVoxels(gtOH)

	scores := make([]float64, numClass)
	for c := range scores {
		union := predCount[c] + gtCount[c]
		if union == 0 {
			scores[c] = 1
			continue
		}
		scores[c] = 2 * overlap[c] / union
	}

	return scores, nil
}

// sumVoxels sums [nvoxel, nclass] over voxels and drops x.
func sumVoxels(x *ts.Tensor) []float64 {
	sum := x.MustSum1([]int64{0}, false, gotch.Double, true)
	values := sum.Float64Values()
	sum.MustDrop()
	return values
}

func numel(size []int64) int64 {
	n := int64(1)
	for _, d := range size {
		n *= d
	}
	return n
}
