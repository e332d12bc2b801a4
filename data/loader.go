package data

import (
	"context"
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/sync/errgroup"

	"github.com/sugarme/iseg3d/config"
)

// Batch holds the tensors of one mini-batch.
type Batch struct {
	IDs    []string
	Image  *ts.Tensor // [B C D H W] or [B D H W C]
	Label  *ts.Tensor // [B D H W 1] int64
	Weight *ts.Tensor // [B D H W 1] float
}

// Drop frees the batch tensors.
func (b *Batch) Drop() {
	b.Image.MustDrop()
	b.Label.MustDrop()
	b.Weight.MustDrop()
}

// DataLoader iterates a Dataset batch by batch.
type DataLoader struct {
	ds      Dataset
	sampler *BatchSampler
	cfg     *config.Config
	device  gotch.Device
	cursor  int
}

// NewDataLoader creates DataLoader.
func NewDataLoader(ds Dataset, s *BatchSampler, cfg *config.Config) (*DataLoader, error) {
	if ds.Len() != s.n {
		return nil, fmt.Errorf("Dataset length (%v) and sampler size (%v) mismatched.", ds.Len(), s.n)
	}

	return &DataLoader{
		ds:      ds,
		sampler: s,
		cfg:     cfg,
		device:  cfg.Device(),
	}, nil
}

// HasNext reports whether another batch is available.
func (dl *DataLoader) HasNext() bool {
	return dl.cursor < dl.sampler.Len()
}

// Len returns number of batches per pass.
func (dl *DataLoader) Len() int {
	return dl.sampler.Len()
}

// Reset starts a new pass over the dataset.
func (dl *DataLoader) Reset() {
	dl.sampler.Reset()
	dl.cursor = 0
}

// Next decodes the samples of the next batch concurrently and stacks them into tensors.
func (dl *DataLoader) Next(ctx context.Context) (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("Next: no more batches")
	}
	indices := dl.sampler.Batches()[dl.cursor]
	dl.cursor++

	samples := make([]*Sample, len(indices))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(dl.cfg.Workers, 1))
	for i, idx := range indices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := dl.ds.Item(idx)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Collate(samples, dl.cfg, dl.device)
}

// Collate stacks samples into batch tensors on device.
func Collate(samples []*Sample, cfg *config.Config, device gotch.Device) (*Batch, error) {
	bs := int64(len(samples))
	voxels := cfg.Shape.Voxels()
	imageLen := cfg.InChannels * voxels

	ids := make([]string, 0, bs)
	image := make([]float32, 0, bs*imageLen)
	label := make([]int64, 0, bs*voxels)
	weight := make([]float32, 0, bs*voxels)
	for _, s := range samples {
		if int64(len(s.Image)) != imageLen || int64(len(s.Label)) != voxels || int64(len(s.Weight)) != voxels {
			return nil, fmt.Errorf("%w: sample %v", ErrShapeMismatch, s.ID)
		}
		ids = append(ids, s.ID)
		image = append(image, s.Image...)
		label = append(label, s.Label...)
		weight = append(weight, s.Weight...)
	}

	shp := cfg.Shape
	imgTs, err := ts.NewTensorFromData(image, []int64{bs, cfg.InChannels, shp.D, shp.H, shp.W})
	if err != nil {
		return nil, err
	}
	labelTs, err := ts.NewTensorFromData(label, []int64{bs, shp.D, shp.H, shp.W, 1})
	if err != nil {
		imgTs.MustDrop()
		return nil, err
	}
	weightTs, err := ts.NewTensorFromData(weight, []int64{bs, shp.D, shp.H, shp.W, 1})
	if err != nil {
		imgTs.MustDrop()
		labelTs.MustDrop()
		return nil, err
	}

	if cfg.Layout == config.ChannelsLast {
		imgTs = imgTs.MustPermute([]int64{0, 2, 3, 4, 1}, true)
	}

	return &Batch{
		IDs:    ids,
		Image:  imgTs.MustTo(device, true),
		Label:  labelTs.MustTo(device, true),
		Weight: weightTs.MustTo(device, true),
	}, nil
}
