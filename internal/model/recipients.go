package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required template field: %s", e.Field)
}

func errMissingField(name string) error {
	return &MissingFieldError{Field: name}
}

// ErrNoRecipients is returned when normalization produces an empty list.
var ErrNoRecipients = fmt.Errorf("recipients must not be empty")

// RecipientsInput accepts the three recipient shapes the admin UI has
// historically sent: a JSON array of addresses, a single comma-delimited
// string, or an object whose values are addresses. Anything else is an
// unmarshal error, not a silent coercion.
type RecipientsInput struct {
	list   []string
	raw    string
	object map[string]string
	kind   recipientsKind
}

type recipientsKind int

const (
	recipientsUnset recipientsKind = iota
	recipientsList
	recipientsString
	recipientsObject
)

func RecipientList(addrs ...string) RecipientsInput {
	return RecipientsInput{list: addrs, kind: recipientsList}
}

func RecipientString(s string) RecipientsInput {
	return RecipientsInput{raw: s, kind: recipientsString}
}

func RecipientMap(m map[string]string) RecipientsInput {
	return RecipientsInput{object: m, kind: recipientsObject}
}

func (r *RecipientsInput) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = RecipientList(list...)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*r = RecipientString(raw)
		return nil
	}

	var object map[string]string
	if err := json.Unmarshal(data, &object); err == nil {
		*r = RecipientMap(object)
		return nil
	}

	return fmt.Errorf("recipients must be a string list, a comma-delimited string, or a map of strings")
}

func (r RecipientsInput) MarshalJSON() ([]byte, error) {
	addrs, err := r.Normalize()
	if err != nil {
		return nil, err
	}
	return json.Marshal(addrs)
}

// Normalize maps the accepted input shapes to the canonical flat address
// list. Map values are ordered by key so the result is deterministic.
// An empty result is an error: a task without recipients is never persisted.
func (r RecipientsInput) Normalize() ([]string, error) {
	var candidates []string

	switch r.kind {
	case recipientsList:
		candidates = r.list
	case recipientsString:
		candidates = strings.Split(r.raw, ",")
	case recipientsObject:
		keys := make([]string, 0, len(r.object))
		for k := range r.object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			candidates = append(candidates, r.object[k])
		}
	case recipientsUnset:
		return nil, ErrNoRecipients
	default:
		return nil, fmt.Errorf("unsupported recipients shape")
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}
