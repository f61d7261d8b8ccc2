package crud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/liamcoop/crud/internal/logger"
	"github.com/liamcoop/crud/internal/metrics"
	"github.com/liamcoop/crud/normalize"
)

// PublicAPIListener reshapes the primary view variable before rendering so API
// clients see flat records with lower-case keys and typed values
type PublicAPIListener struct {
	opts normalize.Options
}

func NewPublicAPIListener(opts normalize.Options) *PublicAPIListener {
	return &PublicAPIListener{opts: opts}
}

func (l *PublicAPIListener) Options() normalize.Options {
	return l.opts
}

// ImplementedEvents subscribes to beforeRender only when the transform applies
// to r; otherwise the listener is inert for the request
func (l *PublicAPIListener) ImplementedEvents(r *http.Request) map[string]HandlerFunc {
	if !normalize.ShouldActivate(IsAPIRequest(r), l.opts) {
		return map[string]HandlerFunc{}
	}
	return map[string]HandlerFunc{EventBeforeRender: l.BeforeRender}
}

// BeforeRender normalizes and rebinds the view variable. A missing or empty
// view variable is left alone.
func (l *PublicAPIListener) BeforeRender(_ context.Context, e *Event) error {
	s := e.Subject
	value, ok := s.ViewVars[s.ViewVar]
	if !ok || normalize.IsEmpty(value) {
		metrics.Get().RecordNormalization(s.Resource, "skipped", 0)
		return nil
	}

	start := time.Now()
	out, err := normalize.Normalize(value, s.PrimaryGroup, l.opts)
	if err != nil {
		metrics.Get().RecordNormalization(s.Resource, "error", time.Since(start))
		return fmt.Errorf("failed to normalize %s: %w", s.ViewVar, err)
	}
	metrics.Get().RecordNormalization(s.Resource, "normalized", time.Since(start))

	s.ViewVars[s.ViewVar] = out
	logger.Trace("view variable normalized", "resource", s.Resource, "view_var", s.ViewVar, "subject", s.ID.String())
	return nil
}
