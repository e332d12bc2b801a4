package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/iseg3d/base"
	"github.com/sugarme/iseg3d/config"
)

func TestConv3dVariables(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	base.Conv3d(vs.Root().Sub("a"), 2, 4, 3, 1, 1)
	base.Conv3dNoBias(vs.Root().Sub("b"), 2, 4, 3, 1, 1)

	vars := vs.Variables()
	require.Contains(t, vars, "a.weight")
	require.Contains(t, vars, "a.bias")
	require.Contains(t, vars, "b.weight")
	assert.NotContains(t, vars, "b.bias")

	assert.Equal(t, []int64{4, 2, 3, 3, 3}, vars["a.weight"].MustSize())
	assert.Equal(t, []int64{4}, vars["a.bias"].MustSize())
	assert.Equal(t, []int64{4, 2, 3, 3, 3}, vars["b.weight"].MustSize())
}

func TestConv3dForward(t *testing.T) {
	tests := []struct {
		name                   string
		ksize, padding, stride int64
		want                   []int64
	}{
		{"same", 3, 1, 1, []int64{1, 4, 4, 6, 8}},
		{"valid", 3, 0, 1, []int64{1, 4, 2, 4, 6}},
		{"strided", 1, 0, 2, []int64{1, 4, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := nn.NewVarStore(gotch.CPU)
			conv := base.Conv3d(vs.Root(), 2, 4, tt.ksize, tt.padding, tt.stride)

			x := ts.MustZeros([]int64{1, 2, 4, 6, 8}, gotch.Float, gotch.CPU)
			y := conv.Forward(x)
			assert.Equal(t, tt.want, y.MustSize())
			x.MustDrop()
			y.MustDrop()
		})
	}
}

func TestDoubleConv3d(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	block := base.DoubleConv3d(vs.Root(), 3, 5, 0.001)

	vars := vs.Variables()
	assert.Equal(t, []int64{5, 3, 3, 3, 3}, vars["conv_0.conv.weight"].MustSize())
	assert.Equal(t, []int64{5, 5, 3, 3, 3}, vars["conv_1.conv.weight"].MustSize())
	assert.NotContains(t, vars, "conv_0.conv.bias")

	x := ts.MustRand([]int64{2, 3, 2, 4, 4}, gotch.Float, gotch.CPU)
	y := block.ForwardT(x, true)
	assert.Equal(t, []int64{2, 5, 2, 4, 4}, y.MustSize())
	x.MustDrop()
	y.MustDrop()
}

func TestUpConvAndPool(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	up := base.UpConv3dRelu(vs.Root(), 4, 2)

	x := ts.MustZeros([]int64{1, 4, 2, 3, 4}, gotch.Float, gotch.CPU)
	y := up.ForwardT(x, false)
	assert.Equal(t, []int64{1, 2, 4, 6, 8}, y.MustSize())

	pooled := base.MaxPool3d(y)
	assert.Equal(t, []int64{1, 2, 2, 3, 4}, pooled.MustSize())

	x.MustDrop()
	y.MustDrop()
	pooled.MustDrop()
}

func TestLayeredChannelsLast(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	block := base.NewLayered(base.DoubleConv3d(vs.Root(), 3, 5, 0.001), config.ChannelsLast)

	x := ts.MustZeros([]int64{1, 2, 4, 4, 3}, gotch.Float, gotch.CPU)
	y := block.ForwardT(x, false)
	assert.Equal(t, []int64{1, 2, 4, 4, 5}, y.MustSize())
	x.MustDrop()
	y.MustDrop()
}

func TestSegmentationHead(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewSegmentationHead(vs.Root(), 8, 4)

	vars := vs.Variables()
	assert.Equal(t, []int64{4, 8, 1, 1, 1}, vars["weight"].MustSize())
	assert.Contains(t, vars, "bias")

	x := ts.MustZeros([]int64{1, 8, 2, 2, 2}, gotch.Float, gotch.CPU)
	y := head.ForwardT(x, false)
	assert.Equal(t, []int64{1, 4, 2, 2, 2}, y.MustSize())
	x.MustDrop()
	y.MustDrop()
}
