package crud

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/liamcoop/crud/normalize"
	"github.com/liamcoop/crud/table"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Views renders the HTML pages of the actions
type Views struct {
	pages map[string]*template.Template
}

// NewViews parses the embedded templates
func NewViews() (*Views, error) {
	v := &Views{pages: make(map[string]*template.Template)}
	for _, name := range []string{"index", "view", "form"} {
		t, err := template.ParseFS(templateFS, "templates/layout.tmpl", "templates/"+name+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// Render writes a page. Output is buffered so a template error still yields a 500.
func (v *Views) Render(w http.ResponseWriter, status int, name string, data *page) error {
	t, ok := v.pages[name]
	if !ok {
		return fmt.Errorf("unknown template %s", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

type page struct {
	Title    string
	Singular string
	Base     string
	Flashes  []Flash
	Table    grid
	Form     form
}

type grid struct {
	Headers []string
	Rows    []gridRow
}

type gridRow struct {
	ID    string
	Cells []string
}

type form struct {
	Action string
	Legend string
	Fields []formField
}

type formField struct {
	Name   string
	Label  string
	Value  string
	Hidden bool
	Errors []string
}

// buildGrid lays rows out as columns. Rows may be grouped by entity or already
// flattened by the public API listener.
func buildGrid(schema table.Schema, payload any) grid {
	var rows []normalize.Record
	switch t := payload.(type) {
	case normalize.Record:
		rows = []normalize.Record{t}
	case []normalize.Record:
		rows = t
	case []any:
		for _, item := range t {
			if rec, ok := item.(normalize.Record); ok {
				rows = append(rows, rec)
			}
		}
	}

	var g grid
	index := map[string]int{}
	for _, row := range rows {
		cells := map[string]string{}
		flattenCells(row, "", cells, func(h string) {
			if _, seen := index[h]; !seen {
				index[h] = len(g.Headers)
				g.Headers = append(g.Headers, h)
			}
		})

		out := gridRow{ID: rowID(schema, row), Cells: make([]string, 0, len(g.Headers))}
		for _, h := range g.Headers {
			out.Cells = append(out.Cells, cells[h])
		}
		g.Rows = append(g.Rows, out)
	}

	// earlier rows may miss headers introduced later
	for i := range g.Rows {
		for len(g.Rows[i].Cells) < len(g.Headers) {
			g.Rows[i].Cells = append(g.Rows[i].Cells, "")
		}
	}
	return g
}

func flattenCells(rec normalize.Record, prefix string, cells map[string]string, header func(string)) {
	for _, f := range rec {
		name := f.Key
		if prefix != "" {
			name = prefix + "." + f.Key
		}
		if nested, ok := f.Value.(normalize.Record); ok {
			flattenCells(nested, name, cells, header)
			continue
		}
		header(name)
		if f.Value != nil {
			cells[name] = fmt.Sprint(f.Value)
		}
	}
}

// rowID finds the primary key in a grouped or flattened row
func rowID(schema table.Schema, row normalize.Record) string {
	for _, group := range []string{schema.Entity, strings.ToLower(schema.Entity)} {
		if v, ok := row.Get(group); ok {
			if rec, isRecord := v.(normalize.Record); isRecord {
				if id, found := rec.GetString(schema.PrimaryKey); found {
					return id
				}
			}
		}
	}
	id, _ := row.GetString(schema.PrimaryKey)
	return id
}

// buildForm lists the table's own columns with the submitted or stored values
func buildForm(schema table.Schema, action, legend string, values normalize.Record, errs ValidationErrors) form {
	f := form{Action: action, Legend: legend}
	title := cases.Title(language.English)
	for _, c := range schema.Columns {
		value, _ := values.GetString(c)
		f.Fields = append(f.Fields, formField{
			Name:   c,
			Label:  title.String(strings.ReplaceAll(c, "_", " ")),
			Value:  value,
			Hidden: c == schema.PrimaryKey,
			Errors: errs.ForField(c),
		})
	}
	return f
}
