// Package auth decides whether a client may perform an operation on a
// signal path.
//
// The request dispatcher consults an Authorizer for every matched node of a
// request. Implementations:
//   - AllowAll: no access control
//   - Policy: static rules per subject
//   - TokenAuthorizer: grants carried in a signed JWT access token
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viss-protocol/viss-go/pkg/model"
)

// Authorization errors.
var (
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidGrant  = errors.New("invalid grant")
	ErrUnknownAction = errors.New("unknown operation")
)

// Operation is the kind of access requested.
type Operation uint8

const (
	OpGet Operation = 1 << iota
	OpSet
	OpSubscribe

	// OpAll is every operation.
	OpAll = OpGet | OpSet | OpSubscribe
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpSubscribe:
		return "subscribe"
	case OpAll:
		return "*"
	}
	var names []string
	for _, op := range []Operation{OpGet, OpSet, OpSubscribe} {
		if o&op != 0 {
			names = append(names, op.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseOperations parses a comma or pipe separated operation list.
// "*" means every operation.
func ParseOperations(s string) (Operation, error) {
	var ops Operation
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "get", "read":
			ops |= OpGet
		case "set", "write":
			ops |= OpSet
		case "subscribe":
			ops |= OpSubscribe
		case "*":
			ops |= OpAll
		default:
			return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
		}
	}
	return ops, nil
}

// Grant allows a set of operations on the paths matched by an expression.
type Grant struct {
	Pattern model.Expression
	Ops     Operation
}

// ParseGrant parses "<ops>:<expression>", for example "get,subscribe:Vehicle.**".
func ParseGrant(s string) (Grant, error) {
	opsPart, pattern, ok := strings.Cut(s, ":")
	if !ok {
		return Grant{}, fmt.Errorf("%w: %q", ErrInvalidGrant, s)
	}
	ops, err := ParseOperations(opsPart)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	expr, err := model.ParseExpression(pattern)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	return Grant{Pattern: expr, Ops: ops}, nil
}

// Allows reports whether the grant covers op on path.
func (g Grant) Allows(path string, op Operation) bool {
	return g.Ops&op == op && g.Pattern.Match(path)
}

// String returns the grant in ParseGrant form.
func (g Grant) String() string {
	return g.Ops.String() + ":" + g.Pattern.String()
}

// Identity is the authenticated client of a session.
type Identity struct {
	// Subject names the client. Empty for anonymous clients.
	Subject string

	// Grants are the permissions carried by the client's credentials.
	Grants []Grant
}

// Anonymous is the identity of a client without credentials.
var Anonymous = Identity{}

// IsAnonymous reports whether the identity has no subject.
func (id Identity) IsAnonymous() bool { return id.Subject == "" }

// Allows reports whether any grant of the identity covers op on path.
func (id Identity) Allows(path string, op Operation) bool {
	for _, g := range id.Grants {
		if g.Allows(path, op) {
			return true
		}
	}
	return false
}

// Authorizer decides access for one (identity, path, operation) triple.
// A nil error means allowed; denials wrap ErrAccessDenied.
type Authorizer interface {
	Authorize(ctx context.Context, id Identity, path string, op Operation) error
}

// AllowAll permits every operation.
type AllowAll struct{}

// Authorize always returns nil.
func (AllowAll) Authorize(context.Context, Identity, string, Operation) error { return nil }

var _ Authorizer = AllowAll{}

func denied(id Identity, path string, op Operation) error {
	subject := id.Subject
	if subject == "" {
		subject = "anonymous"
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrAccessDenied, subject, op, path)
}
