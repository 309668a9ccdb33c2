// Package access decides which callers may invoke protected operations.
package access

import (
	"errors"
	"sort"
	"strings"
)

// AllowAllValue is the configuration literal that admits every caller.
const AllowAllValue = "all"

var ErrEmptyPolicy = errors.New("access: policy lists no identities")

// Identity is an opaque caller identifier, e.g. the string form of a numeric account id.
type Identity string

// Guard decides whether a caller may invoke a protected operation.
type Guard interface {
	Authorize(id Identity) bool
}

// Policy is either AllowAll or an allow-set of identities.
// A Policy has no mutators, so a single value can be shared by concurrent requests.
type Policy struct {
	allowAll bool
	ids      map[Identity]struct{}
}

func AllowAll() Policy {
	return Policy{allowAll: true}
}

func AllowSet(ids ...Identity) Policy {
	set := make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Policy{ids: set}
}

// ParsePolicy parses either the exact lowercase literal "all" or a list of identities separated by commas or whitespace.
func ParsePolicy(raw string) (Policy, error) {
	raw = strings.TrimSpace(raw)
	if raw == AllowAllValue {
		return AllowAll(), nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return Policy{}, ErrEmptyPolicy
	}
	ids := make([]Identity, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, Identity(f))
	}
	return AllowSet(ids...), nil
}

// Authorize is a pure membership test.
func (p Policy) Authorize(id Identity) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.ids[id]
	return ok
}

func (p Policy) AllowsAll() bool { return p.allowAll }

func (p Policy) String() string {
	if p.allowAll {
		return AllowAllValue
	}
	ids := make([]string, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
