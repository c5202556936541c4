package ocr

import (
	"context"
	"fmt"
	"sync"
)

var (
	defaultMu     sync.RWMutex
	defaultEngine Engine = NopEngine{}
)

// DefaultEngine returns the registered default engine. It is NopEngine unless an
// engine package such as ocr/tesseract has been linked in.
func DefaultEngine() Engine {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultEngine
}

// SetDefaultEngine sets the default OCR engine.
func SetDefaultEngine(engine Engine) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultEngine = engine
}

// Recognize runs inputs through engine one at a time and stops at the first
// failure. Results are in input order.
func Recognize(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// NopEngine recognizes nothing.
type NopEngine struct{}

func (NopEngine) Name() string { return "noop" }

func (NopEngine) Recognize(_ context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}
