package crud

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/crud/internal/logger"
	"github.com/liamcoop/crud/normalize"
)

// RequiredRule names the error produced by RequirePresence
const RequiredRule = "_required"

const requiredMessage = "This field is required"

// Rule is a CEL expression checked against one field. The expression sees the
// field as `value` and all submitted fields as `entity`, and must return true
// for the field to be valid.
type Rule struct {
	Field      string `yaml:"field"`
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

type compiledRule struct {
	Rule
	program cel.Program
}

// FieldError is one failed rule
type FieldError struct {
	Field   string
	Rule    string
	Message string
}

// ValidationErrors are ordered by field, then by rule
type ValidationErrors []FieldError

func (v ValidationErrors) Count() int {
	return len(v)
}

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = fmt.Sprintf("%s.%s: %s", e.Field, e.Rule, e.Message)
	}
	return strings.Join(parts, "; ")
}

// ForField returns the messages for field in rule order
func (v ValidationErrors) ForField(field string) []string {
	var out []string
	for _, e := range v {
		if e.Field == field {
			out = append(out, e.Message)
		}
	}
	return out
}

// Record renders the errors as field -> rule -> message
func (v ValidationErrors) Record() normalize.Record {
	out := normalize.Record{}
	for _, e := range v {
		group, _ := out.Get(e.Field)
		rules, _ := group.(normalize.Record)
		rules.Set(e.Rule, e.Message)
		out.Set(e.Field, rules)
	}
	return out
}

// Validator checks submitted fields before a save
type Validator struct {
	env      *cel.Env
	required []string
	rules    []compiledRule
	fields   []string
}

// NewValidator compiles rules once. Compilation errors are returned with the
// offending rule named.
func NewValidator(rules ...Rule) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("entity", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	v := &Validator{env: env}
	for _, r := range rules {
		if err := v.Add(r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// RequirePresence makes fields mandatory when creating
func (v *Validator) RequirePresence(fields ...string) *Validator {
	for _, f := range fields {
		v.required = append(v.required, f)
		v.track(f)
	}
	return v
}

// Add compiles and appends a rule
func (v *Validator) Add(r Rule) error {
	if r.Field == "" || r.Name == "" {
		return fmt.Errorf("rule requires a field and a name")
	}

	ast, issues := v.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error in rule %s.%s: %w", r.Field, r.Name, issues.Err())
	}

	prog, err := v.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("program creation error in rule %s.%s: %w", r.Field, r.Name, err)
	}

	if r.Message == "" {
		r.Message = "The provided value is invalid"
	}
	v.rules = append(v.rules, compiledRule{Rule: r, program: prog})
	v.track(r.Field)
	return nil
}

func (v *Validator) track(field string) {
	for _, f := range v.fields {
		if f == field {
			return
		}
	}
	v.fields = append(v.fields, field)
}

func (v *Validator) isRequired(field string) bool {
	for _, f := range v.required {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks fields. Presence is only enforced when creating; rules only
// run for fields that were submitted.
func (v *Validator) Validate(fields normalize.Record, creating bool) ValidationErrors {
	if v == nil {
		return nil
	}

	entity := make(map[string]any, len(fields))
	for _, f := range fields {
		entity[f.Key] = f.Value
	}

	var errs ValidationErrors
	for _, field := range v.fields {
		value, present := fields.Get(field)
		if !present {
			if creating && v.isRequired(field) {
				errs = append(errs, FieldError{Field: field, Rule: RequiredRule, Message: requiredMessage})
			}
			continue
		}

		for _, r := range v.rules {
			if r.Field != field {
				continue
			}
			if !v.passes(r, value, entity) {
				errs = append(errs, FieldError{Field: field, Rule: r.Name, Message: r.Message})
			}
		}
	}
	return errs
}

// passes treats evaluation errors and non-bool results as failures
func (v *Validator) passes(r compiledRule, value any, entity map[string]any) bool {
	out, _, err := r.program.Eval(map[string]any{
		"value":  value,
		"entity": entity,
	})
	if err != nil {
		logger.Debug("validation rule failed to evaluate", "field", r.Field, "rule", r.Name, "error", err)
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}
