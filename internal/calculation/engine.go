package calculation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Observer receives timing for every strategy dispatch.
type Observer interface {
	ObserveCalculation(strategy string, rows int, duration time.Duration, err error)
}

// Engine dispatches calculations to registered strategies.
type Engine struct {
	registry *Registry
	chunker  *ChunkProcessor
	observer Observer
	logger   *zap.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithChunkProcessor enables chunked execution of mergeable strategies on large inputs.
func WithChunkProcessor(c *ChunkProcessor) EngineOption {
	return func(e *Engine) { e.chunker = c }
}

// WithObserver attaches a timing observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine constructs an engine over registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the strategy registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Preprocess applies the shared row filter once: absent rows and the -1 sentinel are
// dropped when cfg.DropAbsent is set. The input slice is never modified.
func Preprocess(records []models.ScoreRecord, cfg Config) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0, len(records))
	for _, r := range records {
		if cfg.DropAbsent && r.IsAbsent() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Calculate preprocesses records and runs one strategy.
func (e *Engine) Calculate(name string, records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	reg, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.dispatch(reg, Preprocess(records, cfg), cfg)
}

// CalculateAll preprocesses once and runs every named strategy. The first failure is
// returned together with the results computed so far.
func (e *Engine) CalculateAll(names []string, records []models.ScoreRecord, cfg Config) (map[string]*models.CalculationResult, error) {
	regs := make([]Registration, 0, len(names))
	for _, name := range names {
		reg, err := e.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}

	prepared := Preprocess(records, cfg)
	results := make(map[string]*models.CalculationResult, len(regs))
	for _, reg := range regs {
		res, err := e.dispatch(reg, prepared, cfg)
		if err != nil {
			return results, fmt.Errorf("strategy %s: %w", reg.Name, err)
		}
		results[reg.Name] = res
	}
	return results, nil
}

func (e *Engine) dispatch(reg Registration, records []models.ScoreRecord, cfg Config) (res *models.CalculationResult, err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveCalculation(reg.Name, len(records), time.Since(start), err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked", zap.String("strategy", reg.Name), zap.Any("panic", r))
			res, err = nil, appErrors.Wrap(fmt.Errorf("panic: %v", r), appErrors.ErrInternal.Code, true, "strategy "+reg.Name+" panicked")
		}
	}()

	if !reg.Strategy.ValidateInput(records, cfg) {
		return nil, appErrors.Clonef(appErrors.ErrInvalidInput, "input rejected by strategy %s (%d rows)", reg.Name, len(records))
	}

	if e.chunker.ShouldChunk(len(records)) && reg.Policy == Mergeable {
		e.logger.Debug("chunked calculation",
			zap.String("strategy", reg.Name),
			zap.Int("rows", len(records)),
		)
		return e.chunker.calculate(reg, e.chunker.Split(records), cfg)
	}
	return reg.Strategy.Calculate(records, cfg)
}
