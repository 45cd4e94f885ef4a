package expr

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/stacgen/api"
)

// Source is a parsed document that can answer queries in its own language.
//
// Query returns a *api.MissError when the selector matches nothing and a
// *api.ConfigError when the selector is not valid in the document language.
// A single match is returned as a scalar, several as a slice.
type Source interface {
	Name() string
	Query(selector string) (any, error)
}

// EvalError reports a helper that could not interpret its input.
// It is a data problem and matches api.ErrCoercion.
type EvalError struct {
	Helper string
	Err    error
}

func (e *EvalError) Error() string { return fmt.Sprintf("%s: %v", e.Helper, e.Err) }

func (e *EvalError) Unwrap() error { return e.Err }

func (e *EvalError) Is(target error) bool { return target == api.ErrCoercion }

type evalCtx struct {
	ctx context.Context
	src Source
}

// Evaluate runs e against src and returns one raw, uncoerced value.
func Evaluate(ctx context.Context, src Source, e *Expr) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.root.eval(&evalCtx{ctx: ctx, src: src})
}

func (l literal) eval(*evalCtx) (any, error) {
	return l.value, nil
}

func (q query) eval(c *evalCtx) (any, error) {
	if c.src == nil {
		return nil, api.Configf("expression", "query %q has no source document", q.text)
	}
	return c.src.Query(q.text)
}

func (cl *call) eval(c *evalCtx) (any, error) {
	args := make([]any, len(cl.args))
	for i, a := range cl.args {
		v, err := a.eval(c)
		if err != nil {
			if cl.helper.lenient && errors.Is(err, api.ErrResolutionMiss) {
				continue
			}
			return nil, err
		}
		args[i] = v
	}
	opts := make(options, len(cl.opts))
	for name, n := range cl.opts {
		v, err := n.eval(c)
		if err != nil {
			return nil, err
		}
		opts[name] = v
	}
	v, err := cl.helper.fn(args, opts)
	if err != nil {
		var miss *api.MissError
		var cfg *api.ConfigError
		if errors.As(err, &miss) || errors.As(err, &cfg) {
			return nil, err
		}
		return nil, &EvalError{Helper: cl.helper.name, Err: err}
	}
	return v, nil
}
