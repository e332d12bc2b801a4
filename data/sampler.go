package data

import (
	"fmt"
	"math/rand"
	"time"
)

// BatchSampler splits dataset indices into batches.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand
	batches   [][]int
}

// NewBatchSampler creates BatchSampler over n samples.
// dropLast drops a trailing incomplete batch; shuffle reorders indices on every Reset.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool) (*BatchSampler, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("Invalid batch size: %v", batchSize)
	}
	if n < 0 {
		return nil, fmt.Errorf("Invalid number of samples: %v", n)
	}

	s := &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.Reset()

	return s, nil
}

// Reset rebuilds the batches, reshuffling when enabled.
func (s *BatchSampler) Reset() {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	s.batches = s.batches[:0]
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			if s.dropLast {
				break
			}
			end = s.n
		}
		s.batches = append(s.batches, indices[start:end])
	}
}

// Batches returns the current batches.
func (s *BatchSampler) Batches() [][]int {
	return s.batches
}

// Len returns number of batches.
func (s *BatchSampler) Len() int {
	return len(s.batches)
}
