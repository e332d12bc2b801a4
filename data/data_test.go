package data_test

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	xtiff "golang.org/x/image/tiff"

	"github.com/sugarme/iseg3d/config"
	"github.com/sugarme/iseg3d/data"
)

func writeTiff(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, xtiff.Encode(f, img, nil))
}

// fixture writes a 4x4 single-slice subject: intensity ramp and a label square.
func fixture(t *testing.T, dir, id string) data.Record {
	t.Helper()
	intensity := image.NewGray16(image.Rect(0, 0, 4, 4))
	label := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			intensity.SetGray16(x, y, color.Gray16{Y: uint16(100 * (y*4 + x + 1))})
			if x < 2 && y < 2 {
				label.SetGray(x, y, color.Gray{Y: 1})
			}
		}
	}

	imgPath := filepath.Join(dir, id+"_t1.tiff")
	labelPath := filepath.Join(dir, id+"_seg.tiff")
	writeTiff(t, imgPath, intensity)
	writeTiff(t, labelPath, label)

	return data.Record{ID: id, Images: []string{imgPath}, Label: labelPath}
}

func fixtureConfig() *config.Config {
	cfg := config.Default()
	cfg.InChannels = 1
	cfg.NumClass = 2
	cfg.BatchSize = 2
	cfg.Depth = 1
	cfg.Shape = config.Shape{D: 2, H: 4, W: 4}
	return cfg
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	csv := "id,images,label\ns1,s1_t1.tiff|s1_t2.tiff,s1_seg.tiff\ns2,/abs/t1.tiff|/abs/t2.tiff,/abs/seg.tiff\n"
	path := filepath.Join(dir, "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	records, err := data.ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "s1", records[0].ID)
	assert.Equal(t, []string{filepath.Join(dir, "s1_t1.tiff"), filepath.Join(dir, "s1_t2.tiff")}, records[0].Images)
	assert.Equal(t, filepath.Join(dir, "s1_seg.tiff"), records[0].Label)
	assert.Equal(t, "/abs/seg.tiff", records[1].Label)
}

func TestReadManifestMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,images\ns1,a.tiff\n"), 0o644))

	_, err := data.ReadManifest(path)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	var records []data.Record
	for i := 0; i < 10; i++ {
		records = append(records, data.Record{ID: fmt.Sprint(i)})
	}

	train, valid := data.Split(records, 0.2, 42)
	assert.Len(t, train, 8)
	assert.Len(t, valid, 2)

	train2, valid2 := data.Split(records, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, valid, valid2)
}

func TestZScore(t *testing.T) {
	values := []float32{0, 1, 2, 3, 0}
	data.ZScore(values)

	assert.Equal(t, float32(0), values[0])
	assert.Equal(t, float32(0), values[4])
	assert.InDelta(t, 0, values[2], 1e-6)
	assert.InDelta(t, -values[1], values[3], 1e-6)
}

func TestWeights(t *testing.T) {
	labels := []int64{0, 0, 0, 1}

	uniform := data.Weights(labels, 3, "uniform")
	assert.Equal(t, []float32{1, 1, 1, 1}, uniform)

	// 2 present classes: class 0 -> 4/(3*2), class 1 -> 4/(1*2)
	balanced := data.Weights(labels, 3, "balanced")
	assert.InDelta(t, 4.0/6.0, balanced[0], 1e-6)
	assert.InDelta(t, 2.0, balanced[3], 1e-6)

	var sum float32
	for _, w := range balanced {
		sum += w
	}
	assert.InDelta(t, 1.0, sum/4, 1e-6)
}

func TestBatchSampler(t *testing.T) {
	s, err := data.NewBatchSampler(10, 3, true, false)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}}, s.Batches())

	s, err = data.NewBatchSampler(10, 3, false, true)
	require.NoError(t, err)
	require.Equal(t, 4, s.Len())
	assert.Len(t, s.Batches()[3], 1)

	seen := map[int]bool{}
	for _, b := range s.Batches() {
		for _, i := range b {
			seen[i] = true
		}
	}
	assert.Len(t, seen, 10)

	_, err = data.NewBatchSampler(10, 0, false, false)
	assert.Error(t, err)
}

func TestReadVolume(t *testing.T) {
	dir := t.TempDir()
	rec := fixture(t, dir, "s1")

	// single page, depth padded to 2
	shape := config.Shape{D: 2, H: 4, W: 4}
	values, err := data.ReadIntensity(rec.Images[0], shape)
	require.NoError(t, err)
	require.Len(t, values, 32)
	assert.Equal(t, float32(100), values[0])
	assert.Equal(t, float32(1600), values[15])
	assert.Equal(t, float32(0), values[16])

	labels, err := data.ReadLabel(rec.Label, shape, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 0, 0}, labels[:4])

	_, err = data.ReadLabel(rec.Label, shape, 1)
	assert.ErrorIs(t, err, data.ErrShapeMismatch)
}

func TestReadVolumeResize(t *testing.T) {
	dir := t.TempDir()
	rec := fixture(t, dir, "s1")

	shape := config.Shape{D: 1, H: 2, W: 2}
	labels, err := data.ReadLabel(rec.Label, shape, 2)
	require.NoError(t, err)
	require.Len(t, labels, 4)
	for _, l := range labels {
		assert.Contains(t, []int64{0, 1}, l)
	}

	values, err := data.ReadIntensity(rec.Images[0], shape)
	require.NoError(t, err)
	assert.Len(t, values, 4)
}

func TestReadLabelDepths(t *testing.T) {
	dir := t.TempDir()
	shape := config.Shape{D: 1, H: 2, W: 2}
	want := []int64{1, 3, 0, 2}

	gray16 := image.NewGray16(image.Rect(0, 0, 2, 2))
	palette := color.Palette{color.Black, color.White, color.Gray{Y: 128}, color.Gray{Y: 64}}
	paletted := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	for i, l := range want {
		gray16.SetGray16(i%2, i/2, color.Gray16{Y: uint16(l)})
		paletted.SetColorIndex(i%2, i/2, uint8(l))
	}

	for name, img := range map[string]image.Image{"gray16": gray16, "paletted": paletted} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".tiff")
			writeTiff(t, path, img)

			labels, err := data.ReadLabel(path, shape, 4)
			require.NoError(t, err)
			assert.Equal(t, want, labels)

			_, err = data.ReadLabel(path, shape, 3)
			assert.ErrorIs(t, err, data.ErrShapeMismatch)
		})
	}
}

func TestReadLabel16BitResize(t *testing.T) {
	// quadrants 1, 2 / 3, 300 of a 4x4 slice
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	quadrant := []uint16{1, 2, 3, 300}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray16(x, y, color.Gray16{Y: quadrant[(y/2)*2+x/2]})
		}
	}
	path := filepath.Join(t.TempDir(), "seg16.tiff")
	writeTiff(t, path, img)

	labels, err := data.ReadLabel(path, config.Shape{D: 1, H: 2, W: 2}, 301)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 300}, labels)

	_, err = data.ReadLabel(path, config.Shape{D: 1, H: 2, W: 2}, 4)
	assert.ErrorIs(t, err, data.ErrShapeMismatch)
}

func TestVolumeDataset(t *testing.T) {
	dir := t.TempDir()
	cfg := fixtureConfig()
	ds := data.NewVolumeDataset([]data.Record{fixture(t, dir, "s1")}, cfg)
	require.Equal(t, 1, ds.Len())

	s, err := ds.Item(0)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Len(t, s.Image, 32)
	assert.Len(t, s.Label, 32)
	assert.Len(t, s.Weight, 32)

	cfg.InChannels = 2
	_, err = ds.Item(0)
	assert.ErrorIs(t, err, data.ErrShapeMismatch)
}

type memDataset []*data.Sample

func (m memDataset) Len() int { return len(m) }
func (m memDataset) Item(idx int) (*data.Sample, error) { return m[idx], nil }

func memSample(id string, cfg *config.Config) *data.Sample {
	voxels := cfg.Shape.Voxels()
	s := &data.Sample{
		ID:     id,
		Image:  make([]float32, cfg.InChannels*voxels),
		Label:  make([]int64, voxels),
		Weight: make([]float32, voxels),
	}
	for i := range s.Weight {
		s.Weight[i] = 1
	}
	return s
}

func TestDataLoader(t *testing.T) {
	for _, layout := range []config.Layout{config.ChannelsFirst, config.ChannelsLast} {
		cfg := fixtureConfig()
		cfg.Layout = layout
		ds := memDataset{memSample("a", cfg), memSample("b", cfg), memSample("c", cfg)}

		s, err := data.NewBatchSampler(ds.Len(), int(cfg.BatchSize), true, false)
		require.NoError(t, err)
		dl, err := data.NewDataLoader(ds, s, cfg)
		require.NoError(t, err)

		count := 0
		for dl.HasNext() {
			b, err := dl.Next(context.Background())
			require.NoError(t, err)
			count++

			if layout == config.ChannelsFirst {
				assert.Equal(t, []int64{2, 1, 2, 4, 4}, b.Image.MustSize())
			} else {
				assert.Equal(t, []int64{2, 2, 4, 4, 1}, b.Image.MustSize())
			}
			assert.Equal(t, []int64{2, 2, 4, 4, 1}, b.Label.MustSize())
			assert.Equal(t, gotch.Int64, b.Label.DType())
			assert.Equal(t, []string{"a", "b"}, b.IDs)
			b.Drop()
		}
		assert.Equal(t, 1, count)

		_, err = dl.Next(context.Background())
		assert.Error(t, err)

		dl.Reset()
		assert.True(t, dl.HasNext())
	}
}

func TestCollateShapeMismatch(t *testing.T) {
	cfg := fixtureConfig()
	bad := memSample("bad", cfg)
	bad.Label = bad.Label[:3]

	_, err := data.Collate([]*data.Sample{bad}, cfg, gotch.CPU)
	assert.ErrorIs(t, err, data.ErrShapeMismatch)
}

func TestPreview(t *testing.T) {
	cfg := fixtureConfig()
	s := memSample("a", cfg)
	s.Label[0] = 1

	img, err := data.Preview(s, cfg.Shape, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
	assert.NotEqual(t, uint8(0), img.NRGBAAt(4, 0).R)

	_, err = data.Preview(s, cfg.Shape, 5)
	assert.ErrorIs(t, err, data.ErrShapeMismatch)

	require.NoError(t, data.SavePreview(s, cfg.Shape, 1, filepath.Join(t.TempDir(), "p.png")))
}
