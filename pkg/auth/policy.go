package auth

import (
	"context"
	"fmt"
)

// Rule grants operations on a path pattern to a subject.
type Rule struct {
	// Subject is matched exactly. "*" matches every client, including
	// anonymous ones.
	Subject string

	Grant Grant
}

// Policy is a static rule list. A request is allowed if any rule whose
// subject matches grants it, or if the identity itself carries a grant.
type Policy struct {
	rules []Rule
}

// NewPolicy creates a policy from rules.
func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

// ParseRule builds a rule from a subject and a grant string.
func ParseRule(subject, grant string) (Rule, error) {
	g, err := ParseGrant(grant)
	if err != nil {
		return Rule{}, fmt.Errorf("rule for %q: %w", subject, err)
	}
	return Rule{Subject: subject, Grant: g}, nil
}

// Rules returns a copy of the policy rules.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Authorize implements Authorizer.
func (p *Policy) Authorize(_ context.Context, id Identity, path string, op Operation) error {
	if id.Allows(path, op) {
		return nil
	}
	for _, r := range p.rules {
		if r.Subject != "*" && r.Subject != id.Subject {
			continue
		}
		if r.Grant.Allows(path, op) {
			return nil
		}
	}
	return denied(id, path, op)
}

var _ Authorizer = (*Policy)(nil)
