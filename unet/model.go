package unet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/base"
	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/encoder"
)

// UNet3D is a volumetric UNET model struct.
// Ref: https://arxiv.org/abs/1606.06650
type UNet3D struct {
	encoder encoder.Encoder
	decoder *UNet3DDecoder
	segHead ts.ModuleT
	layout  config.Layout
}

// ForwardT implements ts.ModuleT for UNet3D struct.
// x is [B C D H W] or [B D H W C] depending on the configured layout.
// The returned logits are always channel-last: [B D H W NumClass].
func (n *UNet3D) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	features := n.encoder.ForwardAll(x, train)
	out := n.decoder.ForwardFeatures(features, train)
	logits := n.segHead.ForwardT(out, train)

	for _, f := range features {
		f.MustDrop()
	}
	out.MustDrop()

	if n.layout == config.ChannelsFirst {
		return logits.MustPermute([]int64{0, 2, 3, 4, 1}, true)
	}
	return logits
}

// NewUNet3D creates UNet3D from config.
func NewUNet3D(p *nn.Path, cfg *config.Config) *UNet3D {
	enc := encoder.NewUNet3DEncoder(p, cfg)
	dec := NewUNet3DDecoder(p, cfg)
	head := base.NewSegmentationHead(p.Sub("final"), cfg.Features, cfg.NumClass)

	return &UNet3D{
		encoder: enc,
		decoder: dec,
		segHead: base.NewLayered(head, cfg.Layout),
		layout:  cfg.Layout,
	}
}
