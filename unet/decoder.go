package unet

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/base"
	"github.com/sugarme/iseg3d/config"
)

// DecoderLayer upsamples, concatenates the matching encoder feature and
// forwards through a double conv block.
type DecoderLayer struct {
	Up     ts.ModuleT
	Conv   ts.ModuleT
	layout config.Layout
}

// NewDecoderLayer creates a DecoderLayer.
// cIn: channels of the tensor to upsample, skip: channels of the encoder feature.
func NewDecoderLayer(p *nn.Path, step int, cIn, skip, cOut int64, cfg *config.Config) *DecoderLayer {
	up := base.UpConv3dRelu(p.Sub(fmt.Sprintf("up_conv_%d", step)), cIn, cOut)
	conv := base.DoubleConv3d(p.Sub(fmt.Sprintf("up%d", step)), cOut+skip, cOut, cfg.Eps)

	return &DecoderLayer{
		Up:     base.NewLayered(up, cfg.Layout),
		Conv:   base.NewLayered(conv, cfg.Layout),
		layout: cfg.Layout,
	}
}

// ForwardSkip upsamples x, concatenates skip along the channel axis and forwards.
func (d *DecoderLayer) ForwardSkip(x, skip *ts.Tensor, train bool) *ts.Tensor {
	up := d.Up.ForwardT(x, train)
	cat := Concat(up, skip, d.layout)
	up.MustDrop()
	res := d.Conv.ForwardT(cat, train)
	cat.MustDrop()

	return res
}

// Concat joins upsampled and skip tensors on the channel axis of layout.
func Concat(up, skip *ts.Tensor, layout config.Layout) *ts.Tensor {
	return ts.MustCat([]ts.Tensor{*up, *skip}, layout.ChannelAxis())
}

// UNet3DDecoder is the expanding path of UNet3D.
type UNet3DDecoder struct {
	layers []*DecoderLayer
}

// NewUNet3DDecoder creates `depth-1` decoder layers.
func NewUNet3DDecoder(p *nn.Path, cfg *config.Config) *UNet3DDecoder {
	layers := make([]*DecoderLayer, cfg.Depth-1)
	for d := range layers {
		layers[d] = NewDecoderLayer(p, d, cfg.Features, cfg.Features, cfg.Features, cfg)
	}

	return &UNet3DDecoder{layers}
}

// ForwardFeatures forwards through encoder features.
// Decoder step d pairs with features[depth-1-1-d]; the deepest feature is the decoder input.
func (n *UNet3DDecoder) ForwardFeatures(features []*ts.Tensor, train bool) *ts.Tensor {
	depth := len(n.layers) + 1
	if len(features) != depth {
		log.Fatalf("Expected features of %v tensors. Got %v\n", depth, len(features))
	}

	// E.g. channels-first, features[2]: [3 32 5 36 36]
	// z0: up [3 32 10 72 72] ++ features[1] => [3 64 10 72 72] => [3 32 10 72 72]
	// z1: up [3 32 20 144 144] ++ features[0] => [3 64 20 144 144] => [3 32 20 144 144]
	layer := features[depth-1].MustShallowClone()
	for d, l := range n.layers {
		z := l.ForwardSkip(layer, features[depth-1-1-d], train)
		layer.MustDrop()
		layer = z
	}

	return layer
}
