package crud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/crud/normalize"
)

func allOptions(apiOnly bool) normalize.Options {
	return normalize.Options{
		RestrictToAPI:       apiOnly,
		FlattenPrimaryGroup: true,
		NormalizeKeys:       true,
		CastValues:          true,
		Location:            time.UTC,
	}
}

func apiRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/users.json", nil)
	req.Header.Set("Accept", "application/json")
	return req
}

func TestPublicAPIListener_ImplementedEvents(t *testing.T) {
	htmlRequest := httptest.NewRequest(http.MethodGet, "/users", nil)

	tests := []struct {
		name    string
		apiOnly bool
		req     *http.Request
		want    bool
	}{
		{"api only, api request", true, apiRequest(), true},
		{"api only, html request", true, htmlRequest, false},
		{"not api only", false, htmlRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewPublicAPIListener(allOptions(tt.apiOnly))
			events := l.ImplementedEvents(tt.req)

			if tt.want {
				assert.Len(t, events, 1)
				assert.Contains(t, events, EventBeforeRender)
			} else {
				assert.Empty(t, events)
			}
		})
	}
}

func usersSubject(viewVars map[string]any, viewVar string) *Subject {
	s := newSubject(ActionIndex, usersSchema(), httptest.NewRecorder(), apiRequest())
	s.ViewVars = viewVars
	s.ViewVar = viewVar
	return s
}

func friendsOfCake() []normalize.Record {
	return []normalize.Record{
		{
			{Key: "User", Value: normalize.Record{{Key: "id", Value: 5}, {Key: "name", Value: "FriendsOfCake"}}},
			{Key: "Profile", Value: normalize.Record{{Key: "id", Value: 987}, {Key: "twitter", Value: "@FriendsOfCake"}}},
		},
		{
			{Key: "User", Value: normalize.Record{{Key: "id", Value: 45}, {Key: "name", Value: "CakePHP"}}},
			{Key: "Profile", Value: normalize.Record{{Key: "id", Value: 123}, {Key: "twitter", Value: "@cakephp"}}},
		},
	}
}

func TestPublicAPIListener_BeforeRenderWithNestingChange(t *testing.T) {
	users := friendsOfCake()
	s := usersSubject(map[string]any{"success": true, "users": users}, "users")

	l := NewPublicAPIListener(allOptions(true))
	require.NoError(t, l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s}))

	assert.JSONEq(t, `[
		{"id":5,"name":"FriendsOfCake","profile":{"id":987,"twitter":"@FriendsOfCake"}},
		{"id":45,"name":"CakePHP","profile":{"id":123,"twitter":"@cakephp"}}
	]`, string(mustJSON(t, s.ViewVars["users"])))
	assert.Equal(t, true, s.ViewVars["success"])
}

func TestPublicAPIListener_BeforeRenderWithoutNestingChange(t *testing.T) {
	opts := allOptions(true)
	opts.FlattenPrimaryGroup = false

	s := usersSubject(map[string]any{"success": true, "users": friendsOfCake()}, "users")
	l := NewPublicAPIListener(opts)
	require.NoError(t, l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s}))

	assert.JSONEq(t, `[
		{"user":{"id":5,"name":"FriendsOfCake"},"profile":{"id":987,"twitter":"@FriendsOfCake"}},
		{"user":{"id":45,"name":"CakePHP"},"profile":{"id":123,"twitter":"@cakephp"}}
	]`, string(mustJSON(t, s.ViewVars["users"])))
}

func TestPublicAPIListener_BeforeRenderWithFindFirstAndNestingChange(t *testing.T) {
	s := usersSubject(map[string]any{"success": true, "user": friendsOfCake()[0]}, "user")
	l := NewPublicAPIListener(allOptions(true))
	require.NoError(t, l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s}))

	assert.JSONEq(t, `{"id":5,"name":"FriendsOfCake","profile":{"id":987,"twitter":"@FriendsOfCake"}}`,
		string(mustJSON(t, s.ViewVars["user"])))
}

func TestPublicAPIListener_BeforeRenderWithoutViewVar(t *testing.T) {
	s := usersSubject(map[string]any{"success": true}, "users")
	l := NewPublicAPIListener(allOptions(true))

	require.NoError(t, l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s}))
	_, bound := s.ViewVars["users"]
	assert.False(t, bound, "a missing view variable must not be bound")
}

func TestPublicAPIListener_BeforeRenderWithEmptyViewVar(t *testing.T) {
	empty := []normalize.Record{}
	s := usersSubject(map[string]any{"success": true, "users": empty}, "users")
	l := NewPublicAPIListener(allOptions(true))

	require.NoError(t, l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s}))
	assert.Equal(t, empty, s.ViewVars["users"])
}

func TestPublicAPIListener_MissingPrimaryGroup(t *testing.T) {
	rows := []normalize.Record{{{Key: "Account", Value: normalize.Record{{Key: "id", Value: "1"}}}}}
	s := usersSubject(map[string]any{"users": rows}, "users")
	l := NewPublicAPIListener(allOptions(true))

	err := l.BeforeRender(context.Background(), &Event{Name: EventBeforeRender, Subject: s})
	assert.ErrorIs(t, err, normalize.ErrPrimaryGroupMissing)
}

func TestPublicAPIListener_EndToEnd(t *testing.T) {
	h := newRouter(t, newController(t, usersTable(),
		WithListeners(NewAPIListener(), NewPublicAPIListener(allOptions(true))),
	))

	rec := send(h, http.MethodGet, "/users.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[
		{"id":5,"name":"FriendsOfCake","profile":{"id":987,"twitter":"@FriendsOfCake"}},
		{"id":45,"name":"CakePHP","profile":{"id":123,"twitter":"@cakephp"}}
	]}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/users/view/45.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":45,"name":"CakePHP","profile":{"id":123,"twitter":"@cakephp"}}}`,
		rec.Body.String())

	// html requests keep the grouped rows
	rec = send(h, http.MethodGet, "/users", nil)
	assert.Contains(t, rec.Body.String(), "<th>User.name</th>")
}

func TestPublicAPIListener_NotAPIOnlyRewritesHTML(t *testing.T) {
	h := newRouter(t, newController(t, usersTable(),
		WithListeners(NewPublicAPIListener(allOptions(false))),
	))

	rec := send(h, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<th>name</th>")
	assert.Contains(t, body, "<th>profile.twitter</th>")
	assert.Contains(t, body, `href="/users/view/45"`)
}

func TestPublicAPIListener_CachedRowsUntouched(t *testing.T) {
	users := usersTable()
	h := newRouter(t, newController(t, users,
		WithListeners(NewPublicAPIListener(allOptions(false))),
	))

	send(h, http.MethodGet, "/users", nil)

	rows, err := users.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "User", rows[0][0].Key)
}
