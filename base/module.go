package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/config"
)

// Identity is a nn.Module placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// Forward implement nn.ModuleT for Identity struct.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// ToChannelsFirst permutes a [B D H W C] tensor to [B C D H W].
// Channels-first input is returned as a new view.
func ToChannelsFirst(x *ts.Tensor, layout config.Layout) *ts.Tensor {
	if layout == config.ChannelsFirst {
		return x.MustShallowClone()
	}
	return x.MustPermute([]int64{0, 4, 1, 2, 3}, false)
}

// FromChannelsFirst permutes a [B C D H W] tensor back to layout.
func FromChannelsFirst(x *ts.Tensor, layout config.Layout) *ts.Tensor {
	if layout == config.ChannelsFirst {
		return x.MustShallowClone()
	}
	return x.MustPermute([]int64{0, 2, 3, 4, 1}, false)
}

// Layered wraps a module that only understands channels-first input
// so that it can be applied to tensors in any layout.
type Layered struct {
	module ts.ModuleT
	layout config.Layout
}

// NewLayered creates a Layered module.
func NewLayered(m ts.ModuleT, layout config.Layout) *Layered {
	return &Layered{module: m, layout: layout}
}

// ForwardT implements ts.ModuleT for Layered struct.
func (l *Layered) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	if l.layout == config.ChannelsFirst {
		return l.module.ForwardT(x, train)
	}

	xcf := ToChannelsFirst(x, l.layout)
	out := l.module.ForwardT(xcf, train)
	xcf.MustDrop()
	res := FromChannelsFirst(out, l.layout)
	out.MustDrop()

	return res
}

// Conv3d creates Conv3D module.
func Conv3d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv3D {
	return nn.NewConv3D(p, cIn, cOut, ksize, conv3dConfig(padding, stride, true))
}

// Conv3dNoBias creates Conv3D with no bias.
func Conv3dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv3D {
	return nn.NewConv3D(p, cIn, cOut, ksize, conv3dConfig(padding, stride, false))
}

func conv3dConfig(padding, stride int64, bias bool) *nn.Conv3DConfig {
	return &nn.Conv3DConfig{
		Stride:   []int64{stride, stride, stride},
		Padding:  []int64{padding, padding, padding},
		Dilation: []int64{1, 1, 1},
		Groups:   1,
		Bias:     bias,
		WsInit:   nn.NewKaimingUniformInit(),
		BsInit:   nn.NewConstInit(0.0),
	}
}

// Conv3dBnRelu creates a SequentialT composing of Conv3D no bias, BatchNorm and a ReLU activation.
func Conv3dBnRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64, eps float64) *nn.SequentialT {
	bnConfig := nn.DefaultBatchNormConfig()
	bnConfig.Eps = eps
	seq := nn.SeqT()
	seq.Add(Conv3dNoBias(p.Sub("conv"), cIn, cOut, ksize, padding, stride))
	seq.Add(nn.BatchNorm3D(p.Sub("bn"), cOut, bnConfig))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// DoubleConv3d creates two stacked 3x3x3 Conv3dBnRelu units with same padding.
func DoubleConv3d(p *nn.Path, cIn, cOut int64, eps float64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv3dBnRelu(p.Sub("conv_0"), cIn, cOut, 3, 1, 1, eps))
	seq.Add(Conv3dBnRelu(p.Sub("conv_1"), cOut, cOut, 3, 1, 1, eps))

	return seq
}

// UpConv3dRelu creates a 2x2x2 transposed convolution with stride 2 followed by ReLU.
// It doubles every spatial dimension: [B C D H W] => [B cOut 2D 2H 2W].
func UpConv3dRelu(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	cfg := &nn.ConvTranspose3DConfig{
		Stride:        []int64{2, 2, 2},
		Padding:       []int64{0, 0, 0},
		OutputPadding: []int64{0, 0, 0},
		Dilation:      []int64{1, 1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        nn.NewKaimingUniformInit(),
		BsInit:        nn.NewConstInit(0.0),
	}
	up := nn.NewConvTranspose3D(p, cIn, cOut, []int64{2, 2, 2}, cfg)

	seq := nn.SeqT()
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return up.Forward(xs)
	}))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// MaxPool3d halves every spatial dimension of a channels-first tensor.
// ksize = 2; stride = 2; padding = 0; dilation = 1; ceil = false
func MaxPool3d(x *ts.Tensor) *ts.Tensor {
	return x.MustMaxPool3d([]int64{2, 2, 2}, []int64{2, 2, 2}, []int64{0, 0, 0}, []int64{1, 1, 1}, false, false)
}
