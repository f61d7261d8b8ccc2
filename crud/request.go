package crud

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/crud/normalize"
	"github.com/liamcoop/crud/table"
)

const maxBodyBytes = 1 << 20

// IsAPIRequest reports whether the client asked for JSON, either with a .json
// URL extension (chi's URLFormat middleware) or an Accept header
func IsAPIRequest(r *http.Request) bool {
	if format, _ := r.Context().Value(middleware.URLFormatCtxKey).(string); format == "json" {
		return true
	}
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(accept))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// requestData reads the submitted fields from a JSON object body or from
// form values
func requestData(r *http.Request) (normalize.Record, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if len(body) == 0 {
			return normalize.Record{}, nil
		}
		decoded, err := normalize.Decode(body)
		if err != nil {
			return nil, &HTTPError{Status: http.StatusBadRequest, Message: "invalid request body", Err: err}
		}
		rec, ok := decoded.(normalize.Record)
		if !ok {
			return nil, NewHTTPError(http.StatusBadRequest, "request body must be a JSON object")
		}
		return rec, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, &HTTPError{Status: http.StatusBadRequest, Message: "invalid form data", Err: err}
	}

	rec := normalize.Record{}
	for key, values := range r.PostForm {
		if len(values) > 0 {
			rec.Set(key, values[0])
		}
	}
	return rec, nil
}

// entityFields keeps the schema's own columns in schema order, skipping the
// primary key
func entityFields(schema table.Schema, data normalize.Record) normalize.Record {
	out := normalize.Record{}
	for _, c := range schema.Columns {
		if c == schema.PrimaryKey {
			continue
		}
		if v, ok := data.Get(c); ok {
			out.Set(c, formValue(v))
		}
	}
	return out
}

// formValue keeps strings and nulls as they are and renders JSON scalars as text
func formValue(v any) any {
	switch t := v.(type) {
	case nil, string:
		return t
	case bool, int64, float64:
		return fmt.Sprint(t)
	default:
		return v
	}
}

// hasFlag reports whether a redirect flag such as _add was submitted
func hasFlag(data normalize.Record, flag string) bool {
	v, ok := data.Get(flag)
	if !ok || v == nil {
		return false
	}
	s := fmt.Sprint(v)
	return s != "" && s != "0" && s != "false"
}
