package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// ErrNoClassifyFunc is returned when a script does not define classify(text).
var ErrNoClassifyFunc = errors.New("script does not define a classify function")

// ScriptClassifier runs a JavaScript function
//
//	function classify(text) { return [{label, score, start, end}] }
//
// per text. start and end are character offsets; text may be given instead
// of offsets. The host exposes luhn(digits).
type ScriptClassifier struct {
	name string

	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// LoadScript compiles a classifier script from disk.
func LoadScript(path string) (*ScriptClassifier, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return NewScriptClassifier(path, string(src))
}

// NewScriptClassifier compiles src and resolves its classify function.
func NewScriptClassifier(name, src string) (*ScriptClassifier, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	vm := goja.New()
	if err := vm.Set("luhn", Luhn); err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("classify"))
	if !ok {
		return nil, ErrNoClassifyFunc
	}
	return &ScriptClassifier{name: name, vm: vm, fn: fn}, nil
}

func (s *ScriptClassifier) Name() string { return "script:" + s.name }

// Classify calls the script. Runs are serialised on one runtime and
// interrupted when ctx ends.
func (s *ScriptClassifier) Classify(ctx context.Context, text string) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	defer s.vm.ClearInterrupt()
	go func() {
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := s.fn(goja.Undefined(), s.vm.ToValue(text))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause := interrupted.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	return scriptAnnotations(val, text)
}

func scriptAnnotations(val goja.Value, text string) ([]Annotation, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	items, ok := val.Export().([]interface{})
	if !ok {
		return nil, fmt.Errorf("classify must return an array, got %T", val.Export())
	}
	runes := []rune(text)
	out := make([]Annotation, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("annotation %d is not an object", i)
		}
		label, _ := m["label"].(string)
		if label == "" {
			return nil, fmt.Errorf("annotation %d has no label", i)
		}
		a := Annotation{Label: label, Score: 1}
		if v, ok := number(m["score"]); ok {
			a.Score = clampScore(v)
		}
		start, hasStart := number(m["start"])
		end, hasEnd := number(m["end"])
		switch {
		case hasStart && hasEnd && start >= 0 && start <= end && int(end) <= len(runes):
			a.Start, a.End = int(start), int(end)
			a.Text = string(runes[a.Start:a.End])
		default:
			s, _ := m["text"].(string)
			if s == "" {
				return nil, fmt.Errorf("annotation %d needs start/end or text", i)
			}
			a.Text = s
		}
		out = append(out, a)
	}
	sortAnnotations(out)
	return out, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
