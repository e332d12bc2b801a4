package data

import (
	"fmt"

	"github.com/sugarme/iseg3d/config"
)

// Sample is one decoded subject, flattened in row-major order.
type Sample struct {
	ID     string
	Image  []float32 // [C D H W]
	Label  []int64   // [D H W]
	Weight []float32 // [D H W]
}

// Dataset is an indexable collection of samples.
type Dataset interface {
	Len() int
	Item(idx int) (*Sample, error)
}

// VolumeDataset implements Dataset over manifest records of multi-page TIFF volumes.
type VolumeDataset struct {
	records []Record
	cfg     *config.Config
}

// NewVolumeDataset creates VolumeDataset.
func NewVolumeDataset(records []Record, cfg *config.Config) *VolumeDataset {
	return &VolumeDataset{records: records, cfg: cfg}
}

// Len implements Dataset interface.
func (ds *VolumeDataset) Len() int {
	return len(ds.records)
}

// Item implements Dataset interface. Every channel is z-score normalized
// independently; the weight map follows the configured weight mode.
func (ds *VolumeDataset) Item(idx int) (*Sample, error) {
	rec := ds.records[idx]
	if int64(len(rec.Images)) != ds.cfg.InChannels {
		return nil, fmt.Errorf("%w: %v has %v modalities, expected %v", ErrShapeMismatch, rec.ID, len(rec.Images), ds.cfg.InChannels)
	}

	voxels := ds.cfg.Shape.Voxels()
	image := make([]float32, 0, int64(len(rec.Images))*voxels)
	for _, p := range rec.Images {
		values, err := ReadIntensity(p, ds.cfg.Shape)
		if err != nil {
			return nil, err
		}
		ZScore(values)
		image = append(image, values...)
	}

	label, err := ReadLabel(rec.Label, ds.cfg.Shape, ds.cfg.NumClass)
	if err != nil {
		return nil, err
	}

	return &Sample{
		ID:     rec.ID,
		Image:  image,
		Label:  label,
		Weight: Weights(label, ds.cfg.NumClass, ds.cfg.WeightMode),
	}, nil
}
