package l2_service

import (
	"fmt"
	"math"

	"factorlab/internal/domain"

	"github.com/maja42/goval"
)

// FactorExpressionService evaluates a composite formula such as
// "0.5*momentum + 0.3*value + 0.2*volatility" over one instrument's
// oriented z-scores. Every factor name is bound as a variable; factors
// that were not requested are bound to 0.
type FactorExpressionService interface {
	Evaluate(expression string, zScores map[domain.FactorType]float64) (float64, error)
	// Validate dry-runs expression so that syntax errors surface before
	// any data is loaded.
	Validate(expression string) error
}

type factorExpressionServiceHandler struct{}

func NewFactorExpressionService() FactorExpressionService {
	return factorExpressionServiceHandler{}
}

func constructFunctionMap() map[string]goval.ExpressionFunction {
	return map[string]goval.ExpressionFunction{
		"abs": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return 0, fmt.Errorf("abs needs 1 arg, got %d", len(args))
			}
			x, err := toFloat(args[0])
			if err != nil {
				return 0, err
			}
			return math.Abs(x), nil
		},
		"max": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("max needs at least 1 arg")
			}
			out := math.Inf(-1)
			for _, a := range args {
				x, err := toFloat(a)
				if err != nil {
					return 0, err
				}
				out = math.Max(out, x)
			}
			return out, nil
		},
		"min": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("min needs at least 1 arg")
			}
			out := math.Inf(1)
			for _, a := range args {
				x, err := toFloat(a)
				if err != nil {
					return 0, err
				}
				out = math.Min(out, x)
			}
			return out, nil
		},
	}
}

func (h factorExpressionServiceHandler) Evaluate(expression string, zScores map[domain.FactorType]float64) (float64, error) {
	variables := map[string]interface{}{}
	for _, f := range domain.AllFactorTypes {
		variables[string(f)] = zScores[f]
	}

	eval := goval.NewEvaluator()
	result, err := eval.Evaluate(expression, variables, constructFunctionMap())
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate composite expression: %w", err)
	}

	r, err := toFloat(result)
	if err != nil {
		return 0, err
	} else if math.IsNaN(r) {
		return 0, fmt.Errorf("calculated NaN as expression result")
	} else if math.IsInf(r, 0) {
		return 0, fmt.Errorf("calculated infinity as expression result")
	}

	return r, nil
}

func (h factorExpressionServiceHandler) Validate(expression string) error {
	probe := map[domain.FactorType]float64{}
	for i, f := range domain.AllFactorTypes {
		probe[f] = 0.5 + float64(i)
	}
	if _, err := h.Evaluate(expression, probe); err != nil {
		return err
	}
	return nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, fmt.Errorf("expression result %v is not a number", v)
}
