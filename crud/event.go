package crud

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/crud/internal/metrics"
	"github.com/liamcoop/crud/table"
)

// Event names dispatched by the actions
const (
	EventBeforeHandle   = "beforeHandle"
	EventBeforeFind     = "beforeFind"
	EventAfterFind      = "afterFind"
	EventBeforeSave     = "beforeSave"
	EventAfterSave      = "afterSave"
	EventBeforeDelete   = "beforeDelete"
	EventAfterDelete    = "afterDelete"
	EventSetFlash       = "setFlash"
	EventBeforeRedirect = "beforeRedirect"
	EventBeforeRender   = "beforeRender"
	EventRecordNotFound = "recordNotFound"
)

// DefaultPriority is used for listener handlers
const DefaultPriority = 10

// Subject carries the state of one action invocation through its events
type Subject struct {
	ID       uuid.UUID
	Action   string
	Resource string
	Schema   table.Schema

	Request  *http.Request
	Response http.ResponseWriter

	// Entity is set by add and edit; EntityID by view, edit and delete
	Entity   *table.Entity
	EntityID string

	Success bool
	Created bool
	Errors  ValidationErrors

	Flash       *Flash
	RedirectURL string

	// ViewVars are handed to the renderer; ViewVar names the one holding the
	// primary payload, which is keyed by PrimaryGroup
	ViewVars     map[string]any
	ViewVar      string
	PrimaryGroup string

	// Handled is set by a listener that already wrote the response
	Handled bool

	// Events lists every dispatched event name, stopped ones included
	Events []string
}

func newSubject(action string, schema table.Schema, w http.ResponseWriter, r *http.Request) *Subject {
	return &Subject{
		ID:           uuid.New(),
		Action:       action,
		Resource:     schema.Alias,
		Schema:       schema,
		Request:      r,
		Response:     w,
		ViewVars:     make(map[string]any),
		PrimaryGroup: schema.Entity,
	}
}

// Event is one dispatch of a named event
type Event struct {
	Name    string
	Subject *Subject
	stopped bool
}

// Stop prevents handlers with a later position from running
func (e *Event) Stop() {
	e.stopped = true
}

func (e *Event) IsStopped() bool {
	return e.stopped
}

// HandlerFunc reacts to an event. A returned error aborts the action.
type HandlerFunc func(ctx context.Context, e *Event) error

// Listener subscribes to events based on the request being handled
type Listener interface {
	ImplementedEvents(r *http.Request) map[string]HandlerFunc
}

type binding struct {
	priority int
	seq      int
	handler  HandlerFunc
}

// EventManager dispatches events to handlers in ascending priority, then in
// registration order
type EventManager struct {
	handlers map[string][]binding
	fired    []string
	seq      int
	mu       sync.Mutex
}

func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[string][]binding)}
}

// On registers handler for name
func (m *EventManager) On(name string, priority int, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	list := append(m.handlers[name], binding{priority: priority, seq: m.seq, handler: handler})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	m.handlers[name] = list
}

// Attach registers the handlers a listener implements for r
func (m *EventManager) Attach(l Listener, r *http.Request) {
	events := l.ImplementedEvents(r)

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m.On(name, DefaultPriority, events[name])
	}
}

// Dispatch runs the handlers for name. The returned event reports whether a
// handler stopped propagation.
func (m *EventManager) Dispatch(ctx context.Context, name string, subject *Subject) (*Event, error) {
	m.mu.Lock()
	m.fired = append(m.fired, name)
	list := append([]binding(nil), m.handlers[name]...)
	m.mu.Unlock()

	if subject != nil {
		subject.Events = append(subject.Events, name)
	}
	metrics.Get().RecordEvent(name)

	e := &Event{Name: name, Subject: subject}
	for _, b := range list {
		if err := b.handler(ctx, e); err != nil {
			return e, fmt.Errorf("%s handler failed: %w", name, err)
		}
		if e.stopped {
			break
		}
	}
	return e, nil
}

// Fired returns the names of all dispatched events in order
func (m *EventManager) Fired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fired...)
}
