package data

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

// ErrShapeMismatch is returned when a volume does not fit the expected layout.
var ErrShapeMismatch = errors.New("shape mismatch")

// Record is one subject of a manifest.
type Record struct {
	ID     string
	Images []string // one multi-page TIFF per input channel (modality)
	Label  string
}

// ReadManifest reads a CSV manifest with columns `id`, `images`, `label`.
// `images` holds `|`-separated per-modality paths. Relative paths are resolved
// against the manifest directory.
func ReadManifest(filename string) ([]Record, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, fmt.Errorf("read manifest %v: %w", filename, df.Err)
	}
	df = df.Select([]string{"id", "images", "label"})
	if df.Err != nil {
		return nil, fmt.Errorf("manifest %v: %w", filename, df.Err)
	}

	dir := filepath.Dir(filename)
	ids := df.Col("id").Records()
	images := df.Col("images").Records()
	labels := df.Col("label").Records()

	records := make([]Record, 0, len(ids))
	for i := range ids {
		var paths []string
		for _, p := range strings.Split(images[i], "|") {
			paths = append(paths, resolve(dir, strings.TrimSpace(p)))
		}
		records = append(records, Record{
			ID:     ids[i],
			Images: paths,
			Label:  resolve(dir, labels[i]),
		})
	}

	return records, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Split shuffles records with seed and splits off validFraction of them for validation.
func Split(records []Record, validFraction float64, seed int64) (train, valid []Record) {
	shuffled := make([]Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := int(float64(len(shuffled)) * validFraction)
	return shuffled[n:], shuffled[:n]
}
