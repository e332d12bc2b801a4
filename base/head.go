package base

import "github.com/sugarme/gotch/nn"

// NewSegmentationHead creates new SegmentatationHead (nn.SequentialT).
// It is a 1x1x1 Conv3D mapping cIn features to cOut class logits
// followed by an identity activation.
func NewSegmentationHead(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv3d(p, cIn, cOut, 1, 0, 1))
	seq.Add(NewIdentity())

	return seq
}
