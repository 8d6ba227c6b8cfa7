// Package authz decides whether the current user may run an operation, based
// on the authorization requirements attached to the operation at registration
// time.
package authz

import "context"

// Requirement is one declared authorization entry for an operation. Roles is
// a comma-separated list; holding any one of them satisfies the entry. Policy
// names a rule the provider evaluates. Both fields may be empty: an entry
// with neither still requires the caller to be authenticated.
type Requirement struct {
	Roles  string
	Policy string
}

// Provider answers role-membership and policy questions about users.
type Provider interface {
	IsInRole(ctx context.Context, userID, role string) (bool, error)
	EvaluatePolicy(ctx context.Context, userID, policyName string) (bool, error)
}
