/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package autoinstall

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
)

// DefaultExpression selects features flagged for automatic installation
const DefaultExpression = `feature.install == "auto"`

// Selector decides with a CEL expression which features are installed automatically.
// The expression sees a string map "feature" with the keys name, version,
// install and description, and must evaluate to a bool.
type Selector struct {
	expression string
	program    cel.Program
	timeout    time.Duration
}

// NewSelector compiles expression; an empty expression uses DefaultExpression
func NewSelector(expression string, timeout time.Duration) (*Selector, error) {
	if expression == "" {
		expression = DefaultExpression
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	env, err := cel.NewEnv(
		cel.Variable("feature", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("CEL expression must evaluate to bool, got %v", ast.OutputType())
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Selector{
		expression: expression,
		program:    program,
		timeout:    timeout,
	}, nil
}

// Expression returns the compiled expression
func (s *Selector) Expression() string {
	return s.expression
}

// Selects evaluates the expression for a feature
func (s *Selector) Selects(ctx context.Context, f descriptor.Feature) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, _, err := s.program.ContextEval(evalCtx, map[string]any{
		"feature": map[string]string{
			"name":        f.Name,
			"version":     f.Version,
			"install":     f.Install,
			"description": f.Description,
		},
	})
	if err != nil {
		return false, fmt.Errorf("CEL expression execution failed: %w", err)
	}

	if result.Type() != types.BoolType {
		return false, fmt.Errorf("unexpected CEL result type: %v", result.Type())
	}
	return result.Value().(bool), nil
}
