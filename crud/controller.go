// Package crud serves index, view, add, edit and delete actions for a table.
// Every action dispatches events on a Subject so listeners can change its
// flow; the API listeners use this to serve JSON clients.
package crud

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/crud/internal/logger"
	"github.com/liamcoop/crud/internal/metrics"
	"github.com/liamcoop/crud/normalize"
	"github.com/liamcoop/crud/table"
)

// Action names
const (
	ActionIndex  = "index"
	ActionView   = "view"
	ActionAdd    = "add"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// Controller serves the actions of one table
type Controller struct {
	table     table.Table
	validator *Validator
	flash     FlashStore
	views     *Views
	listeners []Listener
	base      string
}

type Option func(*Controller)

func WithValidator(v *Validator) Option {
	return func(c *Controller) { c.validator = v }
}

func WithFlashStore(s FlashStore) Option {
	return func(c *Controller) { c.flash = s }
}

func WithViews(v *Views) Option {
	return func(c *Controller) { c.views = v }
}

// WithListeners attaches listeners to every request, in the given order
func WithListeners(l ...Listener) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, l...) }
}

// NewController creates the controller for t, mounted under /<plural alias>
func NewController(t table.Table, opts ...Option) (*Controller, error) {
	c := &Controller{
		table: t,
		base:  "/" + t.Schema().ViewVarPlural(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.flash == nil {
		c.flash = NewMemoryFlashStore()
	}
	if c.views == nil {
		views, err := NewViews()
		if err != nil {
			return nil, err
		}
		c.views = views
	}
	return c, nil
}

// Path is the URL prefix of the controller
func (c *Controller) Path() string {
	return c.base
}

// Routes returns the action routes relative to Path
func (c *Controller) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", c.handleIndex)
	r.Get("/index", c.handleIndex)
	r.Get("/view/{id}", c.handleView)
	r.HandleFunc("/add", c.handleAdd)
	r.HandleFunc("/edit/{id}", c.handleEdit)
	r.HandleFunc("/delete/{id}", c.handleDelete)
	return r
}

// Mount registers each controller under its path. The router must run chi's
// URLFormat middleware for .json URLs to be recognized.
func Mount(r chi.Router, controllers ...*Controller) {
	for _, c := range controllers {
		r.Mount(c.Path(), c.Routes())
	}
}

// invocation is the state of one request
type invocation struct {
	events  *EventManager
	subject *Subject
	session string
	outcome string
	start   time.Time
}

func (c *Controller) begin(action string, w http.ResponseWriter, r *http.Request) *invocation {
	events := NewEventManager()
	for _, l := range c.listeners {
		events.Attach(l, r)
	}
	return &invocation{
		events:  events,
		subject: newSubject(action, c.table.Schema(), w, r),
		outcome: "success",
		start:   time.Now(),
	}
}

func (inv *invocation) dispatch(name string) (*Event, error) {
	return inv.events.Dispatch(inv.subject.Request.Context(), name, inv.subject)
}

func (inv *invocation) sessionID() string {
	if inv.session == "" {
		inv.session = sessionID(inv.subject.Response, inv.subject.Request)
	}
	return inv.session
}

func (c *Controller) finish(inv *invocation) {
	metrics.Get().RecordAction(inv.subject.Resource, inv.subject.Action, inv.outcome, time.Since(inv.start))
}

// fail writes err as JSON for API requests and as plain text otherwise
func (c *Controller) fail(inv *invocation, err error) {
	s := inv.subject
	httpErr := asHTTPError(err)
	inv.outcome = "error"

	if httpErr.Status >= http.StatusInternalServerError {
		logger.Error("action failed", "resource", s.Resource, "action", s.Action, "subject", s.ID.String(), "error", err)
	} else {
		logger.Debug("action rejected", "resource", s.Resource, "action", s.Action, "status", httpErr.Status, "error", err)
	}

	if IsAPIRequest(s.Request) {
		respondError(s.Response, s.Request, httpErr)
		return
	}
	http.Error(s.Response, httpErr.Message, httpErr.Status)
}

func (c *Controller) notFound(inv *invocation, err error) {
	if _, dispatchErr := inv.dispatch(EventRecordNotFound); dispatchErr != nil {
		c.fail(inv, dispatchErr)
		return
	}
	schema := c.table.Schema()
	c.fail(inv, &HTTPError{
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("Record not found in table %q", schema.Table),
		Err:     err,
	})
}

// render runs beforeRender and writes the view variable as JSON or the named page
func (c *Controller) render(inv *invocation, name string, status int, pg *page) {
	s := inv.subject
	if _, err := inv.dispatch(EventBeforeRender); err != nil {
		c.fail(inv, err)
		return
	}
	if s.Handled {
		return
	}

	if IsAPIRequest(s.Request) {
		respondJSON(s.Response, status, s.Success, s.ViewVars[s.ViewVar])
		return
	}

	if pg.Table.Headers == nil && name != "form" {
		pg.Table = buildGrid(s.Schema, s.ViewVars[s.ViewVar])
	}
	flashes, err := c.flash.Consume(s.Request.Context(), inv.sessionID())
	if err != nil {
		logger.Warn("failed to read flash messages", "error", err)
	}
	pg.Flashes = flashes
	pg.Base = c.base
	pg.Singular = s.Schema.Entity

	if err := c.views.Render(s.Response, status, name, pg); err != nil {
		c.fail(inv, err)
	}
}

func (c *Controller) handleIndex(w http.ResponseWriter, r *http.Request) {
	inv := c.begin(ActionIndex, w, r)
	defer c.finish(inv)
	s := inv.subject

	if _, err := inv.dispatch(EventBeforeHandle); err != nil || s.Handled {
		if err != nil {
			c.fail(inv, err)
		}
		return
	}
	if _, err := inv.dispatch(EventBeforeFind); err != nil {
		c.fail(inv, err)
		return
	}

	rows, err := c.table.Find(r.Context())
	if err != nil {
		c.fail(inv, err)
		return
	}
	if rows == nil {
		rows = []normalize.Record{}
	}

	s.Success = true
	s.ViewVar = s.Schema.ViewVarPlural()
	s.ViewVars[s.ViewVar] = rows
	if _, err := inv.dispatch(EventAfterFind); err != nil {
		c.fail(inv, err)
		return
	}

	c.render(inv, "index", http.StatusOK, &page{Title: s.Schema.Alias})
}

func (c *Controller) handleView(w http.ResponseWriter, r *http.Request) {
	inv := c.begin(ActionView, w, r)
	defer c.finish(inv)
	s := inv.subject
	s.EntityID = chi.URLParam(r, "id")

	if _, err := inv.dispatch(EventBeforeHandle); err != nil || s.Handled {
		if err != nil {
			c.fail(inv, err)
		}
		return
	}
	if _, err := inv.dispatch(EventBeforeFind); err != nil {
		c.fail(inv, err)
		return
	}

	row, err := c.table.Get(r.Context(), s.EntityID)
	if errors.Is(err, table.ErrNotFound) {
		c.notFound(inv, err)
		return
	}
	if err != nil {
		c.fail(inv, err)
		return
	}

	s.Success = true
	s.ViewVar = s.Schema.ViewVarSingular()
	s.ViewVars[s.ViewVar] = row
	if _, err := inv.dispatch(EventAfterFind); err != nil {
		c.fail(inv, err)
		return
	}

	c.render(inv, "view", http.StatusOK, &page{Title: s.Schema.Entity + " " + s.EntityID})
}

func (c *Controller) handleAdd(w http.ResponseWriter, r *http.Request) {
	inv := c.begin(ActionAdd, w, r)
	defer c.finish(inv)
	s := inv.subject

	if _, err := inv.dispatch(EventBeforeHandle); err != nil || s.Handled {
		if err != nil {
			c.fail(inv, err)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		values := normalize.Record{}
		query := r.URL.Query()
		for _, col := range s.Schema.Columns {
			if query.Has(col) {
				values.Set(col, query.Get(col))
			}
		}
		s.Success = true
		c.renderForm(inv, values)
	case http.MethodPost, http.MethodPut:
		c.save(inv, &table.Entity{})
	default:
		c.fail(inv, NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"))
	}
}

func (c *Controller) handleEdit(w http.ResponseWriter, r *http.Request) {
	inv := c.begin(ActionEdit, w, r)
	defer c.finish(inv)
	s := inv.subject
	s.EntityID = chi.URLParam(r, "id")

	if _, err := inv.dispatch(EventBeforeHandle); err != nil || s.Handled {
		if err != nil {
			c.fail(inv, err)
		}
		return
	}

	row, err := c.table.Get(r.Context(), s.EntityID)
	if errors.Is(err, table.ErrNotFound) {
		c.notFound(inv, err)
		return
	}
	if err != nil {
		c.fail(inv, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		group, _ := row.Get(s.Schema.Entity)
		values, _ := group.(normalize.Record)
		s.Success = true
		c.renderForm(inv, values)
	case http.MethodPost, http.MethodPut:
		c.save(inv, &table.Entity{ID: s.EntityID})
	default:
		c.fail(inv, NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"))
	}
}

func (c *Controller) handleDelete(w http.ResponseWriter, r *http.Request) {
	inv := c.begin(ActionDelete, w, r)
	defer c.finish(inv)
	s := inv.subject
	s.EntityID = chi.URLParam(r, "id")

	if _, err := inv.dispatch(EventBeforeHandle); err != nil || s.Handled {
		if err != nil {
			c.fail(inv, err)
		}
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		c.fail(inv, NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"))
		return
	}

	if _, err := c.table.Get(r.Context(), s.EntityID); errors.Is(err, table.ErrNotFound) {
		c.notFound(inv, err)
		return
	} else if err != nil {
		c.fail(inv, err)
		return
	}

	ev, err := inv.dispatch(EventBeforeDelete)
	if err != nil {
		c.fail(inv, err)
		return
	}
	if !ev.IsStopped() {
		if err := c.table.Delete(r.Context(), s.EntityID); err != nil {
			logger.Warn("delete failed", "resource", s.Resource, "id", s.EntityID, "error", err)
		} else {
			s.Success = true
		}
	}
	if _, err := inv.dispatch(EventAfterDelete); err != nil {
		c.fail(inv, err)
		return
	}

	c.finishWrite(inv, "delete", normalize.Record{})
}

// save validates and stores entity from the request body, then redirects or
// re-renders the form
func (c *Controller) save(inv *invocation, entity *table.Entity) {
	s := inv.subject
	r := s.Request

	data, err := requestData(r)
	if err != nil {
		c.fail(inv, err)
		return
	}

	entity.Fields = entityFields(s.Schema, data)
	s.Entity = entity
	creating := entity.IsNew()

	ev, err := inv.dispatch(EventBeforeSave)
	if err != nil {
		c.fail(inv, err)
		return
	}

	if !ev.IsStopped() {
		if errs := c.validator.Validate(entity.Fields, creating); len(errs) > 0 {
			s.Errors = errs
			for _, fe := range errs {
				metrics.Get().RecordValidationError(s.Resource, fe.Field)
			}
		} else if err := c.table.Save(r.Context(), entity); err != nil {
			if errors.Is(err, table.ErrNotFound) {
				c.notFound(inv, err)
				return
			}
			logger.Warn("save failed", "resource", s.Resource, "subject", s.ID.String(), "error", err)
		} else {
			s.Success = true
			s.Created = creating
			s.EntityID = entity.ID
		}
	}

	if _, err := inv.dispatch(EventAfterSave); err != nil {
		c.fail(inv, err)
		return
	}

	verb := "update"
	if creating {
		verb = "create"
	}
	c.finishWrite(inv, verb, data)
}

// finishWrite sets the flash message and redirects on success. A failed add
// or edit re-renders the form; a failed delete still redirects.
func (c *Controller) finishWrite(inv *invocation, verb string, data normalize.Record) {
	s := inv.subject
	entity := strings.ToLower(s.Schema.Entity)

	message := fmt.Sprintf("Could not %s %s", verb, entity)
	if s.Success {
		message = fmt.Sprintf("Successfully %sd %s", verb, entity)
	} else {
		inv.outcome = "failure"
	}

	if err := c.setFlash(inv, newFlash(message, s.Success)); err != nil {
		c.fail(inv, err)
		return
	}

	if s.Success || s.Action == ActionDelete {
		c.redirect(inv, c.redirectURL(s, data))
		return
	}

	values := s.Entity.Fields.Clone()
	if !s.Entity.IsNew() {
		values.Set(s.Schema.PrimaryKey, s.Entity.ID)
	}
	c.renderForm(inv, values)
}

func (c *Controller) setFlash(inv *invocation, f *Flash) error {
	s := inv.subject
	s.Flash = f

	ev, err := inv.dispatch(EventSetFlash)
	if err != nil {
		return err
	}
	if ev.IsStopped() {
		return nil
	}

	if err := c.flash.Add(s.Request.Context(), inv.sessionID(), *s.Flash); err != nil {
		logger.Warn("failed to store flash message", "error", err)
		return nil
	}
	metrics.Get().RecordFlash(s.Flash.Params.Class)
	return nil
}

func (c *Controller) redirectURL(s *Subject, data normalize.Record) string {
	if s.Action == ActionDelete || !s.Success {
		return c.base
	}
	switch {
	case hasFlag(data, "_add"):
		return c.base + "/add"
	case hasFlag(data, "_edit"):
		return c.base + "/edit/" + s.EntityID
	default:
		return c.base
	}
}

func (c *Controller) redirect(inv *invocation, url string) {
	s := inv.subject
	s.RedirectURL = url

	if _, err := inv.dispatch(EventBeforeRedirect); err != nil {
		c.fail(inv, err)
		return
	}
	if s.Handled {
		return
	}
	http.Redirect(s.Response, s.Request, s.RedirectURL, http.StatusFound)
}

func (c *Controller) renderForm(inv *invocation, values normalize.Record) {
	s := inv.subject
	s.ViewVar = s.Schema.ViewVarSingular()
	s.ViewVars[s.ViewVar] = normalize.Record{{Key: s.Schema.Entity, Value: values.Clone()}}

	legend := "New " + s.Schema.Entity
	action := c.base + "/add"
	if s.Action == ActionEdit {
		legend = "Edit " + s.Schema.Entity
		action = c.base + "/edit/" + s.EntityID
	}

	c.render(inv, "form", http.StatusOK, &page{
		Title: legend,
		Form:  buildForm(s.Schema, action, legend, values, s.Errors),
	})
}
