package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Kind distinguishes read-only procedures from mutating ones.
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Validator turns an untyped payload into a typed input or rejects it.
// Validators must be deterministic and free of side effects.
type Validator[In any] func(raw json.RawMessage) (In, error)

// Empty is the input of procedures that take none.
type Empty struct{}

// Procedure is a registered, validated operation. Build one with Query or
// Mutation.
type Procedure struct {
	Kind        Kind
	Description string

	validate func(json.RawMessage) (any, error)
	handle   func(context.Context, any) (any, error)
}

// Query builds a read-only procedure. A nil validate decodes the payload with
// no further checks.
func Query[In, Out any](validate Validator[In], handler func(context.Context, In) (Out, error)) Procedure {
	return newProcedure(KindQuery, validate, handler)
}

// Mutation builds a procedure that changes state.
func Mutation[In, Out any](validate Validator[In], handler func(context.Context, In) (Out, error)) Procedure {
	return newProcedure(KindMutation, validate, handler)
}

func newProcedure[In, Out any](kind Kind, validate Validator[In], handler func(context.Context, In) (Out, error)) Procedure {
	if validate == nil {
		validate = Decode[In]
	}
	return Procedure{
		Kind: kind,
		validate: func(raw json.RawMessage) (any, error) {
			in, err := validate(raw)
			if err != nil {
				return nil, err
			}
			return in, nil
		},
		handle: func(ctx context.Context, in any) (any, error) {
			return handler(ctx, in.(In))
		},
	}
}

// Describe returns a copy of p with a human-readable description.
func (p Procedure) Describe(text string) Procedure {
	p.Description = text
	return p
}

// Decode unmarshals raw into In. An absent or null payload yields the zero
// value. Decoding failures are reported as *ValidationError.
func Decode[In any](raw json.RawMessage) (In, error) {
	var in In
	if len(raw) == 0 || string(raw) == "null" {
		return in, nil
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return in, &ValidationError{Field: typeErr.Field, Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
		}
		return in, &ValidationError{Message: fmt.Sprintf("invalid input: %v", err)}
	}
	return in, nil
}

// Router is an immutable table of procedures keyed by route name.
type Router struct {
	procs map[string]Procedure
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description,omitempty"`
}

// NewRouter copies table into a new Router. Later changes to table do not
// affect the router.
func NewRouter(table map[string]Procedure) *Router {
	procs := make(map[string]Procedure, len(table))
	for name, p := range table {
		procs[name] = p
	}
	return &Router{procs: procs}
}

// Merge combines routers into one. A route name registered by more than one
// router is an error.
func Merge(routers ...*Router) (*Router, error) {
	procs := make(map[string]Procedure)
	for _, r := range routers {
		for name, p := range r.procs {
			if _, dup := procs[name]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateRoute, name)
			}
			procs[name] = p
		}
	}
	return &Router{procs: procs}, nil
}

// Lookup returns the procedure registered under route.
func (r *Router) Lookup(route string) (Procedure, bool) {
	p, ok := r.procs[route]
	return p, ok
}

// Routes returns the registered route names in sorted order.
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, 0, len(r.procs))
	for name, p := range r.procs {
		out = append(out, RouteInfo{Name: name, Kind: p.Kind, Description: p.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
