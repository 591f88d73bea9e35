package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/runbook/pkg/errors"
)

// Evaluator evaluates when-guard expressions against a run's context.
// It caches compiled expressions for improved performance on repeated
// evaluations.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates an expression against the given context.
// Returns the boolean result or an error if evaluation fails.
//
// The context should contain:
//   - params: map of run parameter values
//   - outputs: map of completed step outputs keyed by step number string
//
// Example:
//
//	ctx := map[string]interface{}{
//	    "params":  map[string]string{"env": "prod"},
//	    "outputs": map[string]string{"1": "healthy"},
//	}
//	result, err := eval.Evaluate(`params.env == "prod"`, ctx)
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil // Empty guard defaults to true
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			SuggestText: "check expression syntax and ensure all referenced variables exist",
		}
	}

	evalCtx := make(map[string]interface{}, len(ctx)+2)
	for k, v := range ctx {
		evalCtx[k] = v
	}
	evalCtx["has"] = containsFunc
	evalCtx["length"] = lenFunc

	result, err := expr.Run(program, evalCtx)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			SuggestText: "verify that all referenced variables exist in the run context",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			SuggestText: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}

	return boolResult, nil
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	// Check cache first (read lock)
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := compileGuard(expression)
	if err != nil {
		return nil, err
	}

	// Cache the compiled program (write lock)
	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// compileGuard compiles a guard expression with the custom function
// environment and a boolean result requirement.
func compileGuard(expression string) (*vm.Program, error) {
	// Note: "contains" is a reserved string operator in expr, so the
	// membership helper is exposed as "has"
	env := map[string]interface{}{
		"has":    containsFunc,
		"length": lenFunc,
	}

	return expr.Compile(expression,
		expr.Env(env),
		// The run context is supplied at evaluation time
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
}

// Validate checks that an expression compiles and yields a boolean.
// Manifest validation uses this so broken guards surface at load time
// rather than mid-run.
func Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := compileGuard(expression)
	return err
}

// ClearCache clears the expression cache.
// This is mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
