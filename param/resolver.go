// Package param implements the parameter resolver (C1): inliner expansion
// against scoped name bindings, using a restricted expression grammar, and
// type coercion into the Value sum type.
package param

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/store"
)

// inlinerRegex matches {% expr %} non-greedily (§4.1 step 2).
var inlinerRegex = regexp.MustCompile(`\{%.+?%\}`)

// Functions is the fixed, host-provided function table available to param
// inliners. It is intentionally small: the grammar is meant to be a pure,
// sandboxed expression language, not a general scripting surface.
var Functions = map[string]govaluate.ExpressionFunction{
	"upper": func(args ...interface{}) (interface{}, error) {
		return strings.ToUpper(toStr(arg(args, 0))), nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		return strings.ToLower(toStr(arg(args, 0))), nil
	},
	"len": func(args ...interface{}) (interface{}, error) {
		return float64(len(toStr(arg(args, 0)))), nil
	},
	"concat": func(args ...interface{}) (interface{}, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(toStr(a))
		}
		return b.String(), nil
	},
	"default": func(args ...interface{}) (interface{}, error) {
		v := arg(args, 0)
		if v == nil || v == "" {
			return arg(args, 1), nil
		}
		return v, nil
	},
}

func arg(args []interface{}, i int) interface{} {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return ftoa(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Source resolves the param collections a Resolver needs to build name
// bindings, decoupling the evaluator from a concrete persistence backend.
type Source interface {
	GlobalParams() ([]store.Param, error)
	PipelineParams(pipelineID uint) ([]store.Param, error)
}

// Resolver evaluates Param.Value into a typed Value (§4.1).
type Resolver struct {
	Source Source
}

// maxDepth guards against pathological recursive name bindings; the data
// model has no legitimate need for deep recursion since globals and
// pipeline params never reference job params.
const maxDepth = 8

// Val implements §4.1 steps 1-6 for a global or pipeline-scoped Param.
func (r Resolver) Val(p *store.Param) (Value, error) {
	return r.val(p, 0, 0)
}

// ValForJob implements §4.1 for a job-scoped Param, where pipelineID
// identifies the owning pipeline whose params also enter the name binding.
func (r Resolver) ValForJob(p *store.Param, pipelineID uint) (Value, error) {
	return r.val(p, 0, pipelineID)
}

// val resolves p. owningPipelineID is 0 unless p is job-scoped, in which
// case it names the pipeline whose params additionally enter the binding.
func (r Resolver) val(p *store.Param, depth int, owningPipelineID uint) (Value, error) {
	if p.Type == store.ParamBoolean {
		return Bool(p.Value == "1"), nil
	}

	expanded, err := r.expandVars(p, depth, owningPipelineID)
	if err != nil {
		return Value{}, err
	}

	switch p.Type {
	case store.ParamNumber:
		return numberValue(expanded), nil
	case store.ParamStringList:
		return StringList(strings.Split(expanded, "\n")), nil
	case store.ParamNumberList:
		var nums []float64
		for _, line := range strings.Split(expanded, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			nums = append(nums, numberValue(line).Float())
		}
		return NumberList(nums), nil
	default:
		return String(expanded), nil
	}
}

// expandVars implements §4.1 steps 2-5: build the name binding, evaluate
// every inliner, and substitute the stringified results back in.
func (r Resolver) expandVars(p *store.Param, depth int, owningPipelineID uint) (string, error) {
	value := p.Value
	inliners := inlinerRegex.FindAllString(value, -1)
	if len(inliners) == 0 {
		return value, nil
	}

	names, err := r.nameBinding(p, depth, owningPipelineID)
	if err != nil {
		return "", err
	}

	for _, inliner := range inliners {
		expr := strings.TrimSpace(inliner[2 : len(inliner)-2])

		evaluable, err := govaluate.NewEvaluableExpressionWithFunctions(expr, Functions)
		if err != nil {
			return "", errs.WrapBadExpression(err, expr)
		}

		result, err := evaluable.Evaluate(names)
		if err != nil {
			return "", errs.WrapBadExpression(err, expr)
		}

		value = strings.Replace(value, inliner, stringifyResult(result), 1)
	}

	return value, nil
}

// nameBinding builds {True, False} plus, depending on scope, globals and
// the owning pipeline's params (§4.1 step 3).
func (r Resolver) nameBinding(p *store.Param, depth int, owningPipelineID uint) (map[string]interface{}, error) {
	names := map[string]interface{}{
		"True":  true,
		"False": false,
	}

	if depth >= maxDepth {
		return names, nil
	}

	scope := p.Scope()
	if scope == store.ScopeGlobal {
		return names, nil
	}

	globals, err := r.Source.GlobalParams()
	if err != nil {
		return nil, errs.WrapStoreFailure(err)
	}
	if err := r.addAll(names, globals, depth); err != nil {
		return nil, err
	}

	if scope != store.ScopeJob {
		return names, nil
	}

	pipelineID := owningPipelineID
	if p.PipelineID != nil {
		pipelineID = *p.PipelineID
	}
	if pipelineID == 0 {
		return names, nil
	}

	pipelineParams, err := r.Source.PipelineParams(pipelineID)
	if err != nil {
		return nil, errs.WrapStoreFailure(err)
	}
	if err := r.addAll(names, pipelineParams, depth); err != nil {
		return nil, err
	}

	return names, nil
}

func (r Resolver) addAll(names map[string]interface{}, params []store.Param, depth int) error {
	for i := range params {
		v, err := r.val(&params[i], depth+1, 0)
		if err != nil {
			return err
		}
		names[params[i].Name] = v.EvalBinding()
	}
	return nil
}

func stringifyResult(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case float64:
		return ftoa(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// numberValue coerces a string to a number Value: int if parseable, else
// float, else the literal 0 (§4.1 step 6, §9 open question - preserved).
func numberValue(s string) Value {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return Int(0)
}
