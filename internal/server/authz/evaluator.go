package authz

import (
	"context"
	"strings"

	"github.com/dkravtsov/authd/internal/common"
)

// Evaluator applies a list of requirements to the current user.
type Evaluator struct {
	provider Provider
}

func NewEvaluator(p Provider) *Evaluator {
	return &Evaluator{provider: p}
}

// Evaluate returns nil when the user may proceed, or a typed denial.
//
// Stages, each terminal on denial:
//  1. no requirements: the operation is public, allow;
//  2. an empty user id on a protected operation: Unauthenticated;
//  3. role entries: all role lists are flattened into one union and the user
//     needs any single role from it. Entries without roles are skipped here;
//  4. policy entries: every named policy must individually hold.
//
// Roles are any-of across all entries while policies are each mandatory:
// a role list says "one of these suffices", a policy is an orthogonal
// constraint in its own right.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, requirements []Requirement) error {
	if len(requirements) == 0 {
		return nil
	}

	if userID == "" {
		return common.UnauthenticatedError("user is not authenticated")
	}

	var roleNames []string
	for _, r := range requirements {
		if strings.TrimSpace(r.Roles) == "" {
			continue
		}
		for _, role := range strings.Split(r.Roles, ",") {
			roleNames = append(roleNames, strings.TrimSpace(role))
		}
	}

	if len(roleNames) > 0 {
		authorized := false
		for _, role := range roleNames {
			ok, err := e.provider.IsInRole(ctx, userID, role)
			if err != nil {
				return err
			}
			if ok {
				authorized = true
				break
			}
		}
		if !authorized {
			return common.ForbiddenError("user does not have a required role")
		}
	}

	for _, r := range requirements {
		if strings.TrimSpace(r.Policy) == "" {
			continue
		}
		ok, err := e.provider.EvaluatePolicy(ctx, userID, r.Policy)
		if err != nil {
			return err
		}
		if !ok {
			return common.ForbiddenError("user does not satisfy policy " + r.Policy)
		}
	}

	return nil
}
