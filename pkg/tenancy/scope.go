// Package tenancy enforces workspace and user isolation. Every query against
// the entity and relationship tables is built here, starting from a Scope.
package tenancy

import "github.com/jordanlanch/entityhub/pkg/domain"

// Scope is the (workspace, optional user) pair an operation runs in.
// An empty UserID means a workspace-level caller that sees shared and
// private records alike.
type Scope struct {
	WorkspaceID string
	UserID      string
}

// Workspace returns a scope for the same workspace without a user predicate
func Workspace(workspaceID string) Scope {
	return Scope{WorkspaceID: workspaceID}
}

// User returns a user-scoped scope
func User(workspaceID, userID string) Scope {
	return Scope{WorkspaceID: workspaceID, UserID: userID}
}

// Validate ensures the mandatory workspace predicate can be built
func (s Scope) Validate() error {
	if s.WorkspaceID == "" {
		return domain.NewValidationError("workspace id is required")
	}
	return nil
}

// IsUserScoped reports whether the scope narrows results to one user
func (s Scope) IsUserScoped() bool {
	return s.UserID != ""
}

// WorkspaceOnly drops the user predicate, keeping the workspace
func (s Scope) WorkspaceOnly() Scope {
	return Scope{WorkspaceID: s.WorkspaceID}
}
