package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/arctrany/ai-product-selector-sub007/pkg/models"
)

// EvalCondition evaluates a boolean expression tree against a run data map.
// The evaluator is pure: it never mutates data and has no side effects.
func EvalCondition(cond *models.Condition, data map[string]any) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("nil condition")
	}
	switch cond.Op {
	case "and":
		for _, arg := range cond.Args {
			ok, err := EvalCondition(arg, data)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, arg := range cond.Args {
			ok, err := EvalCondition(arg, data)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(cond.Args) != 1 {
			return false, fmt.Errorf("not takes exactly one argument")
		}
		ok, err := EvalCondition(cond.Args[0], data)
		return !ok, err
	case "eq", "neq", "gt", "gte", "lt", "lte":
		return evalComparison(cond, data)
	default:
		return false, fmt.Errorf("unknown boolean op %q", cond.Op)
	}
}

func evalComparison(cond *models.Condition, data map[string]any) (bool, error) {
	if len(cond.Args) != 2 {
		return false, fmt.Errorf("%s takes exactly two arguments", cond.Op)
	}
	left, err := evalValue(cond.Args[0], data)
	if err != nil {
		return false, err
	}
	right, err := evalValue(cond.Args[1], data)
	if err != nil {
		return false, err
	}

	if lf, lok := asNumber(left); lok {
		rf, rok := asNumber(right)
		if !rok {
			return false, fmt.Errorf("cannot compare number with %T", right)
		}
		switch cond.Op {
		case "eq":
			return lf == rf, nil
		case "neq":
			return lf != rf, nil
		case "gt":
			return lf > rf, nil
		case "gte":
			return lf >= rf, nil
		case "lt":
			return lf < rf, nil
		case "lte":
			return lf <= rf, nil
		}
	}

	switch cond.Op {
	case "eq":
		return reflect.DeepEqual(left, right), nil
	case "neq":
		return !reflect.DeepEqual(left, right), nil
	}
	return false, fmt.Errorf("%s requires numeric operands, got %T and %T", cond.Op, left, right)
}

// evalValue resolves a value-producing leaf: "var" reads from the run data,
// "const" yields its literal value.
func evalValue(cond *models.Condition, data map[string]any) (any, error) {
	if cond == nil {
		return nil, fmt.Errorf("nil operand")
	}
	switch cond.Op {
	case "var":
		v, ok := data[cond.Var]
		if !ok {
			return nil, fmt.Errorf("variable %q not present in run data", cond.Var)
		}
		return v, nil
	case "const":
		return cond.Value, nil
	default:
		return nil, fmt.Errorf("expected var or const operand, got %q", cond.Op)
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
