// README: Handler registry mapping job kinds to their run functions.
package jobs

import (
	"context"
	"fmt"
)

// ReportFunc lets a handler publish progress. Calls are throttled by the
// orchestrator; the final call before return always goes through.
type ReportFunc func(progress int, message string)

// Handler runs one job kind. A nil error means completed; an error that
// wraps the job context's cancellation means cancelled. The returned value
// is stored as the job result.
type Handler interface {
	Kind() Kind
	Run(ctx context.Context, job *Job, report ReportFunc) (result any, err error)
}

type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[Kind]Handler, len(handlers))}
	for _, h := range handlers {
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("duplicate handler for kind %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
