package crud

import (
	"context"
	"net/http"
)

// APIListener turns the HTML flow of the actions into a JSON API for requests
// that ask for JSON: wrong methods are rejected, flash messages are dropped,
// redirects become JSON bodies and failed saves become error responses.
type APIListener struct{}

func NewAPIListener() *APIListener {
	return &APIListener{}
}

// allowedMethods lists the verbs each action accepts over the API
var allowedMethods = map[string][]string{
	ActionIndex:  {http.MethodGet},
	ActionView:   {http.MethodGet},
	ActionAdd:    {http.MethodPost, http.MethodPut},
	ActionEdit:   {http.MethodPost, http.MethodPut},
	ActionDelete: {http.MethodPost, http.MethodDelete},
}

func (l *APIListener) ImplementedEvents(r *http.Request) map[string]HandlerFunc {
	if !IsAPIRequest(r) {
		return nil
	}
	return map[string]HandlerFunc{
		EventBeforeHandle:   l.beforeHandle,
		EventSetFlash:       l.setFlash,
		EventBeforeRedirect: l.beforeRedirect,
		EventBeforeRender:   l.beforeRender,
	}
}

func (l *APIListener) beforeHandle(_ context.Context, e *Event) error {
	methods, ok := allowedMethods[e.Subject.Action]
	if !ok {
		return nil
	}
	for _, m := range methods {
		if e.Subject.Request.Method == m {
			return nil
		}
	}
	return NewHTTPError(http.StatusMethodNotAllowed, "Wrong request method")
}

func (l *APIListener) setFlash(_ context.Context, e *Event) error {
	e.Stop()
	return nil
}

func (l *APIListener) beforeRedirect(_ context.Context, e *Event) error {
	s := e.Subject
	if !s.Success {
		return l.failure(s)
	}

	status := http.StatusOK
	if s.Created {
		status = http.StatusCreated
	}
	respondJSON(s.Response, status, true, map[string]any{"id": idValue(s.EntityID)})
	s.Handled = true
	e.Stop()
	return nil
}

// beforeRender only intervenes for failed saves; reads are rendered by the controller
func (l *APIListener) beforeRender(_ context.Context, e *Event) error {
	s := e.Subject
	if s.Success || (s.Action != ActionAdd && s.Action != ActionEdit) {
		return nil
	}
	if s.Request.Method == http.MethodGet {
		return nil
	}
	return l.failure(s)
}

func (l *APIListener) failure(s *Subject) error {
	if len(s.Errors) > 0 {
		return newValidationError(s.Errors)
	}
	message := "Bad Request"
	if s.Flash != nil {
		message = s.Flash.Message
	}
	return NewHTTPError(http.StatusBadRequest, message)
}
