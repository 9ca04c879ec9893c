// Package calculator evaluates arithmetic expressions for the assistant.
package calculator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/expr-lang/expr"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Connector provides the expression evaluation tool.
type Connector struct{}

// New creates the calculator connector.
func New() *Connector {
	return &Connector{}
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "calculator" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error { return nil }

type evalParams struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression, e.g. (2 + 3) * sqrt(16) or pow(2, 10)"`
}

// mathEnv is the evaluation environment: constants and functions only, no
// variables, so expressions stay pure arithmetic.
var mathEnv = map[string]any{
	"pi":    math.Pi,
	"e":     math.E,
	"abs":   math.Abs,
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"log":   math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
	"mod":   math.Mod,
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "calculator_eval",
			Description: "Evaluate an arithmetic expression. Supports + - * / % ** parentheses and functions like sqrt, pow, log, sin, cos, floor, ceil, round, plus the constants pi and e.",
			Parameters:  tools.ParamsSchema(evalParams{}),
			Call:        c.callEval,
		},
	}
}

func (c *Connector) callEval(ctx context.Context, args json.RawMessage) (any, error) {
	var params evalParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	program, err := expr.Compile(params.Expression, expr.Env(mathEnv))
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}

	out, err := expr.Run(program, mathEnv)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	switch v := out.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("expression result is not a finite number")
		}
	}

	return map[string]any{
		"expression": params.Expression,
		"result":     out,
	}, nil
}
