// Package normalize reshapes record trees for API consumers: it hoists the
// primary group to the top level, lower-cases keys and infers scalar types.
package normalize

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrPrimaryGroupMissing is returned when flattening a record that has no primary group
	ErrPrimaryGroupMissing = errors.New("primary group not found in record")

	// ErrPrimaryGroupNotRecord is returned when the primary group holds a scalar
	ErrPrimaryGroupNotRecord = errors.New("primary group is not a record")

	// ErrUnsupportedPayload is returned for payloads that are neither a Record nor a sequence of Records
	ErrUnsupportedPayload = errors.New("unsupported payload type")
)

// Options selects which rewrites run. The zero value disables all of them.
type Options struct {
	// RestrictToAPI limits the transform to requests flagged as API requests
	RestrictToAPI bool `yaml:"apiOnly" json:"apiOnly"`

	// FlattenPrimaryGroup hoists the primary group's fields to the top level
	FlattenPrimaryGroup bool `yaml:"changeNesting" json:"changeNesting"`

	// NormalizeKeys lower-cases every key at every level
	NormalizeKeys bool `yaml:"changeKeys" json:"changeKeys"`

	// CastValues converts numeric and date-time strings
	CastValues bool `yaml:"castValues" json:"castValues"`

	// Location is used to interpret date-time strings; nil means time.Local
	Location *time.Location `yaml:"-" json:"-"`
}

// DefaultOptions enables every rewrite for API requests only
func DefaultOptions() Options {
	return Options{
		RestrictToAPI:       true,
		FlattenPrimaryGroup: true,
		NormalizeKeys:       true,
		CastValues:          true,
	}
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// ShouldActivate reports whether the transform applies to a response
func ShouldActivate(requestIsAPI bool, opts Options) bool {
	return !opts.RestrictToAPI || requestIsAPI
}

// IsEmpty reports whether a payload carries nothing to transform
func IsEmpty(target any) bool {
	switch t := target.(type) {
	case nil:
		return true
	case Record:
		return len(t) == 0
	case []Record:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// Normalize transforms a single Record or a sequence of Records.
// Empty payloads are returned untouched. Records are rewritten in place
// where possible; flattening always produces new top-level Records.
func Normalize(target any, primaryGroup string, opts Options) (any, error) {
	if IsEmpty(target) {
		return target, nil
	}

	switch t := target.(type) {
	case Record:
		return normalizeRecord(t, primaryGroup, opts)
	case []Record:
		out := make([]Record, len(t))
		for i, rec := range t {
			normalized, err := normalizeRecord(rec, primaryGroup, opts)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out[i] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rec, ok := item.(Record)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrUnsupportedPayload, i, item)
			}
			normalized, err := normalizeRecord(rec, primaryGroup, opts)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, target)
	}
}

func normalizeRecord(rec Record, primaryGroup string, opts Options) (Record, error) {
	if opts.FlattenPrimaryGroup {
		flattened, err := Flatten(rec, primaryGroup)
		if err != nil {
			return nil, err
		}
		rec = flattened
	}
	return Recurse(rec, opts), nil
}

// Flatten returns a new Record holding the primary group's fields followed by
// every other top-level entry in its original relative order
func Flatten(record Record, primaryGroup string) (Record, error) {
	idx := record.Index(primaryGroup)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrPrimaryGroupMissing, primaryGroup)
	}

	group, ok := record[idx].Value.(Record)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrPrimaryGroupNotRecord, primaryGroup, record[idx].Value)
	}

	out := make(Record, 0, len(group)+len(record)-1)
	out = append(out, group...)
	for i, f := range record {
		if i == idx {
			continue
		}
		out.Set(f.Key, f.Value)
	}
	return out, nil
}

// Recurse rewrites keys and values of node in place, children first.
// The returned Record is shorter than node only when lower-cased keys collide;
// the later sibling's value then replaces the earlier one.
func Recurse(node Record, opts Options) Record {
	w := &walker{opts: opts, loc: opts.location()}
	if opts.NormalizeKeys {
		w.lower = cases.Lower(language.Und)
	}
	return w.record(node)
}

// walker holds per-invocation state; a cases.Caser must not be shared
type walker struct {
	opts  Options
	loc   *time.Location
	lower cases.Caser
}

func (w *walker) record(node Record) Record {
	for i := range node {
		node[i].Value = w.value(node[i].Value)
		if w.opts.NormalizeKeys {
			node[i].Key = w.lower.String(node[i].Key)
		}
	}
	if !w.opts.NormalizeKeys {
		return node
	}

	out := node[:0]
	for _, f := range node {
		if j := out.Index(f.Key); j >= 0 {
			out[j].Value = f.Value
			continue
		}
		out = append(out, f)
	}
	return out
}

func (w *walker) value(v any) any {
	switch t := v.(type) {
	case Record:
		return w.record(t)
	case []Record:
		for i := range t {
			t[i] = w.record(t[i])
		}
		return t
	case []any:
		for i := range t {
			t[i] = w.value(t[i])
		}
		return t
	case string:
		if w.opts.CastValues {
			return CastValueIn(t, w.loc)
		}
		return t
	default:
		return v
	}
}
