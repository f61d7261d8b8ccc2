package crud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/crud/normalize"
	"github.com/liamcoop/crud/table"
)

func blogsSchema() table.Schema {
	return table.Schema{
		Alias:      "Blogs",
		Entity:     "Blog",
		Table:      "blogs",
		PrimaryKey: "id",
		Columns:    []string{"id", "name", "body"},
	}
}

func usersSchema() table.Schema {
	return table.Schema{
		Alias:      "Users",
		Entity:     "User",
		Table:      "users",
		PrimaryKey: "id",
		Columns:    []string{"id", "name"},
		Associations: []table.Association{
			{Kind: table.HasOne, Alias: "Profile", Table: "profiles", ForeignKey: "user_id", Columns: []string{"id", "twitter"}},
		},
	}
}

// blogsTable is seeded with the five rows of the blogs fixture
func blogsTable() *table.MemoryTable {
	var rows []normalize.Record
	for i := 1; i <= 5; i++ {
		id := strconv.Itoa(i)
		rows = append(rows, normalize.Record{
			{Key: "Blog", Value: normalize.Record{
				{Key: "id", Value: id},
				{Key: "name", Value: "Blog " + id},
				{Key: "body", Value: "Body of blog " + id},
			}},
		})
	}
	return table.NewMemoryTable(blogsSchema(), rows...)
}

func usersTable() *table.MemoryTable {
	return table.NewMemoryTable(usersSchema(),
		normalize.Record{
			{Key: "User", Value: normalize.Record{{Key: "id", Value: "5"}, {Key: "name", Value: "FriendsOfCake"}}},
			{Key: "Profile", Value: normalize.Record{{Key: "id", Value: "987"}, {Key: "twitter", Value: "@FriendsOfCake"}}},
		},
		normalize.Record{
			{Key: "User", Value: normalize.Record{{Key: "id", Value: "45"}, {Key: "name", Value: "CakePHP"}}},
			{Key: "Profile", Value: normalize.Record{{Key: "id", Value: "123"}, {Key: "twitter", Value: "@cakephp"}}},
		},
	)
}

// failingTable refuses every save
type failingTable struct {
	table.Table
}

func (f failingTable) Save(context.Context, *table.Entity) error {
	return errors.New("save refused")
}

// subjectRecorder keeps the subject of the last request
type subjectRecorder struct {
	subject *Subject
}

func (r *subjectRecorder) ImplementedEvents(*http.Request) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		EventBeforeHandle: func(_ context.Context, e *Event) error {
			r.subject = e.Subject
			return nil
		},
	}
}

// countingFlashStore counts writes
type countingFlashStore struct {
	*MemoryFlashStore
	adds int
}

func (s *countingFlashStore) Add(ctx context.Context, session string, f Flash) error {
	s.adds++
	return s.MemoryFlashStore.Add(ctx, session, f)
}

func newRouter(t *testing.T, controllers ...*Controller) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(middleware.URLFormat)
	Mount(r, controllers...)
	return r
}

func newController(t *testing.T, tbl table.Table, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(tbl, opts...)
	require.NoError(t, err)
	return c
}

// send issues a request; form values are sent url-encoded
func send(h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// sessionFrom returns the session cookie the response issued
func sessionFrom(rec *httptest.ResponseRecorder) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c.Value
		}
	}
	return ""
}

func newJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
