package calculation

import (
	"math"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Partial is the mergeable state produced by an Accumulator for one chunk.
//
// Merge rules:
//   - Moments: counts and sums add, means weight by count, M2..M4 use the pooled update.
//   - Sorted: chunk sequences are merged into one ascending sequence, so order
//     statistics are recomputed from the full data rather than merged.
//   - Counts: add per key.
//   - MaxScore: the larger value wins.
type Partial struct {
	Moments  Moments
	Sorted   []float64
	Counts   map[string]int
	MaxScore float64
}

// MergePartials folds chunk partials into one.
func MergePartials(parts ...Partial) Partial {
	var out Partial
	sortedRuns := make([][]float64, 0, len(parts))
	for _, p := range parts {
		out.Moments = out.Moments.Merge(p.Moments)
		out.MaxScore = math.Max(out.MaxScore, p.MaxScore)
		if p.Sorted != nil {
			sortedRuns = append(sortedRuns, p.Sorted)
		}
		if len(p.Counts) > 0 && out.Counts == nil {
			out.Counts = make(map[string]int, len(p.Counts))
		}
		for k, c := range p.Counts {
			out.Counts[k] += c
		}
	}
	if len(sortedRuns) > 0 {
		out.Sorted = mergeSortedRuns(sortedRuns)
	}
	return out
}

// mergeSortedRuns merges ascending runs pairwise until one remains.
func mergeSortedRuns(runs [][]float64) []float64 {
	for len(runs) > 1 {
		next := make([][]float64, 0, (len(runs)+1)/2)
		for i := 0; i < len(runs); i += 2 {
			if i+1 == len(runs) {
				next = append(next, runs[i])
				continue
			}
			next = append(next, mergeSorted(runs[i], runs[i+1]))
		}
		runs = next
	}
	return runs[0]
}

func mergeSorted(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// ChunkProcessor splits large datasets into bounded chunks for mergeable strategies.
type ChunkProcessor struct {
	registry  *Registry
	chunkSize int
	threshold int
}

// Default chunking parameters.
const (
	DefaultChunkSize      = 10000
	DefaultChunkThreshold = 50000
)

// NewChunkProcessor builds a processor; non-positive values fall back to defaults.
func NewChunkProcessor(registry *Registry, chunkSize, threshold int) *ChunkProcessor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	return &ChunkProcessor{registry: registry, chunkSize: chunkSize, threshold: threshold}
}

// ShouldChunk reports whether n rows exceed the chunking threshold.
func (c *ChunkProcessor) ShouldChunk(n int) bool {
	return c != nil && n > c.threshold
}

// Split cuts records into consecutive chunks of at most chunkSize rows. Chunks share
// the caller's backing array and are only read.
func (c *ChunkProcessor) Split(records []models.ScoreRecord) [][]models.ScoreRecord {
	return SplitChunks(records, c.chunkSize)
}

// SplitChunks cuts records into consecutive chunks of at most size rows.
func SplitChunks(records []models.ScoreRecord, size int) [][]models.ScoreRecord {
	if size <= 0 || len(records) == 0 {
		return [][]models.ScoreRecord{records}
	}
	chunks := make([][]models.ScoreRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end:end])
	}
	return chunks
}

// Calculate runs a mergeable strategy chunk by chunk and finalizes the merged partial.
// Full-pass strategies are refused with a merge-incompatible error.
func (c *ChunkProcessor) Calculate(name string, records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	reg, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.calculate(reg, c.Split(records), cfg)
}

// CalculateChunks merges caller-provided chunks, e.g. school partitions.
func (c *ChunkProcessor) CalculateChunks(name string, chunks [][]models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	reg, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.calculate(reg, chunks, cfg)
}

func (c *ChunkProcessor) calculate(reg Registration, chunks [][]models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	acc, ok := reg.Strategy.(Accumulator)
	if reg.Policy != Mergeable || !ok {
		return nil, appErrors.Clonef(appErrors.ErrMergeIncompatible, "strategy %s requires a full pass and cannot be merged from chunks", reg.Name)
	}
	partials := make([]Partial, 0, len(chunks))
	for _, chunk := range chunks {
		p, err := acc.Partial(chunk, cfg)
		if err != nil {
			return nil, err
		}
		partials = append(partials, p)
	}
	return acc.Finalize(MergePartials(partials...), cfg)
}
