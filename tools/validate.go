package tools

import (
	"fmt"
	"strings"

	"github.com/runbookops/runbookd/core"
)

// InputError collects field-level validation failures plus recovery
// guidance for the caller. It wraps core.ErrValidation so callers can
// classify it without inspecting the fields.
type InputError struct {
	Fields  []string
	Actions []string
}

func (e *InputError) Error() string {
	return "invalid input: " + strings.Join(e.Fields, "; ")
}

func (e *InputError) Unwrap() error { return core.ErrValidation }

// fieldValidator accumulates validation failures across checks so a
// caller sees every problem at once, not just the first.
type fieldValidator struct {
	errs    []string
	actions []string
}

func (v *fieldValidator) required(name, value string) {
	if strings.TrimSpace(value) == "" {
		v.errs = append(v.errs, fmt.Sprintf("Missing required field: %s", name))
	}
}

func (v *fieldValidator) requiredList(name string, values []string) {
	if len(values) == 0 {
		v.errs = append(v.errs, fmt.Sprintf("Missing required field: %s", name))
	}
}

func (v *fieldValidator) invalid(name, reason string) {
	v.errs = append(v.errs, fmt.Sprintf("Invalid field %s: %s", name, reason))
}

func (v *fieldValidator) action(a string) {
	v.actions = append(v.actions, a)
}

func (v *fieldValidator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	actions := v.actions
	if len(actions) == 0 {
		actions = []string{"Correct the listed fields and retry the request"}
	}
	return &InputError{Fields: v.errs, Actions: actions}
}
