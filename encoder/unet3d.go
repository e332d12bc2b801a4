package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/base"
	"github.com/sugarme/iseg3d/config"
)

// UNet3DEncoder is the contracting path of UNet3D: `depth` stages of double
// 3x3x3 conv blocks with a 2x2x2 max-pooling between consecutive stages.
type UNet3DEncoder struct {
	stages []ts.ModuleT
	layout config.Layout
}

// NewUNet3DEncoder creates UNet3DEncoder. Stage variables live under `down{d}`.
func NewUNet3DEncoder(p *nn.Path, cfg *config.Config) *UNet3DEncoder {
	stages := make([]ts.ModuleT, cfg.Depth)
	cIn := cfg.InChannels
	for d := 0; d < cfg.Depth; d++ {
		block := base.DoubleConv3d(p.Sub(fmt.Sprintf("down%d", d)), cIn, cfg.Features, cfg.Eps)
		stages[d] = base.NewLayered(block, cfg.Layout)
		cIn = cfg.Features
	}

	return &UNet3DEncoder{
		stages: stages,
		layout: cfg.Layout,
	}
}

// Depth returns number of encoder stages.
func (e *UNet3DEncoder) Depth() int {
	return len(e.stages)
}

// ForwardAll implements Encoder interface for UNet3DEncoder.
// The returned tensors are in the encoder layout and must be dropped by the caller.
func (e *UNet3DEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	// E.g. x [3 4 20 144 144], channels-first
	// 0- Shape: [3 32 20 144 144]
	// 1- Shape: [3 32 10  72  72]
	// 2- Shape: [3 32  5  36  36]
	features := make([]*ts.Tensor, 0, len(e.stages))
	layer := x
	for d, stage := range e.stages {
		out := stage.ForwardT(layer, train)
		if d > 0 {
			layer.MustDrop()
		}
		features = append(features, out)
		if d != len(e.stages)-1 {
			layer = e.pool(out)
		}
	}

	return features
}

func (e *UNet3DEncoder) pool(x *ts.Tensor) *ts.Tensor {
	if e.layout == config.ChannelsFirst {
		return base.MaxPool3d(x)
	}

	xcf := base.ToChannelsFirst(x, e.layout)
	pooled := base.MaxPool3d(xcf)
	xcf.MustDrop()
	res := base.FromChannelsFirst(pooled, e.layout)
	pooled.MustDrop()

	return res
}
