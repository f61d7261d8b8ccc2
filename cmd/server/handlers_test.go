package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/crud/crud"
	"github.com/liamcoop/crud/internal/config"
	"github.com/liamcoop/crud/table"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Resources[1].Seed = []map[string]map[string]string{
		{
			"User":    {"id": "5", "name": "FriendsOfCake", "created": "2012-04-11 19:30:32"},
			"Profile": {"id": "987", "twitter": "@FriendsOfCake"},
		},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func do(s http.Handler, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{Status: "healthy", Resources: 2, Database: "memory", Flash: "memory"}, health)
}

func TestServer_Resources(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	rec := do(s, http.MethodGet, "/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resources":[
		{"alias":"Blogs","path":"/blogs","columns":["id","name","body"]},
		{"alias":"Users","path":"/users","columns":["id","name","created"],"associations":["Profile"]}
	]}`, rec.Body.String())
}

func TestServer_PublicAPI(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	rec := do(s, http.MethodGet, "/users.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[
		{"id":5,"name":"FriendsOfCake","created":1334172632,"profile":{"id":987,"twitter":"@FriendsOfCake"}}
	]}`, rec.Body.String())

	// html keeps the grouped rows
	rec = do(s, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<th>User.name</th>")
}

func TestServer_PublicAPIDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.PublicAPI.Enabled = false
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodGet, "/users/view/5.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{
		"User":{"id":"5","name":"FriendsOfCake","created":"2012-04-11 19:30:32"},
		"Profile":{"id":"987","twitter":"@FriendsOfCake"}
	}}`, rec.Body.String())
}

func TestServer_ValidationFromConfig(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	rec := do(s, http.MethodPost, "/blogs/add.json", url.Values{"body": {"no name"}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Contains(t, rec.Body.String(), `"_required":"This field is required"`)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, memoryConfig())
	do(s, http.MethodGet, "/blogs.json", nil)

	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crud_actions_total")
}

func TestServer_RedisFlash(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodGet, "/health", nil)
	assert.Contains(t, rec.Body.String(), `"flash":"redis"`)

	rec = do(s, http.MethodPost, "/blogs/add", url.Values{"name": {"Stored in redis"}})
	require.Equal(t, http.StatusFound, rec.Code)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == crud.SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, mr.Exists("crud:flash:"+session.Value))

	rec = do(s, http.MethodGet, "/blogs", nil, session)
	assert.Contains(t, rec.Body.String(), "Successfully created blog")
	assert.False(t, mr.Exists("crud:flash:"+session.Value))
}

func TestServer_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig()
	cfg.Redis.URL = "redis://" + addr
	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}

func TestServer_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Resources[0].Table = "drop"

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestServer_RegistryCachesTables(t *testing.T) {
	s := newTestServer(t, memoryConfig())

	tbl, err := s.registry.Get("Blogs")
	require.NoError(t, err)
	_, cached := tbl.(*table.CachedTable)
	assert.True(t, cached)
}
