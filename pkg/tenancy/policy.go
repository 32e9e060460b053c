package tenancy

import (
	"sort"

	"github.com/jordanlanch/entityhub/pkg/domain"
	"github.com/jordanlanch/entityhub/pkg/models"
)

// Visibility decides which records a user-scoped read may return
type Visibility int

const (
	// OwnerOrShared returns the user's own records plus records with no owner.
	OwnerOrShared Visibility = iota
	// OwnerOnly returns the user's own records.
	OwnerOnly
	// WorkspaceWide ignores ownership; every member sees every record.
	WorkspaceWide
)

func (v Visibility) String() string {
	switch v {
	case OwnerOnly:
		return "owner_only"
	case WorkspaceWide:
		return "workspace"
	default:
		return "owner_or_shared"
	}
}

// Policy is the isolation rule of one entity type
type Policy struct {
	Visibility Visibility
	// OwnerWrites restricts mutations of an owned record to its owner even
	// when other members can read it.
	OwnerWrites bool
	// Immutable records are never updated after creation.
	Immutable bool
	// Managed records are written by their own service only and are refused
	// by the generic record API.
	Managed bool
}

// policies is the per-type isolation table. Types not listed fall back to
// defaultPolicy.
var policies = map[string]Policy{
	models.TypeContact:         {Visibility: OwnerOrShared},
	models.TypeCompany:         {Visibility: OwnerOrShared},
	models.TypeDeal:            {Visibility: OwnerOrShared},
	models.TypeLead:            {Visibility: OwnerOrShared},
	models.TypeTask:            {Visibility: OwnerOrShared},
	models.TypeNote:            {Visibility: OwnerOrShared},
	models.TypeMailMessage:     {Visibility: OwnerOnly},
	models.TypeChatMessage:     {Visibility: OwnerOnly},
	models.TypeCalendarEvent:   {Visibility: OwnerOnly},
	models.TypePipeline:        {Visibility: WorkspaceWide, Managed: true},
	models.TypeCustomField:     {Visibility: WorkspaceWide, Managed: true},
	models.TypeActivity:        {Visibility: WorkspaceWide, Immutable: true, Managed: true},
	models.TypeWorkspaceConfig: {Visibility: WorkspaceWide, OwnerWrites: true},
}

var defaultPolicy = Policy{Visibility: OwnerOrShared}

// PolicyFor returns the isolation policy of an entity type
func PolicyFor(entityType string) Policy {
	if p, ok := policies[entityType]; ok {
		return p
	}
	return defaultPolicy
}

// CanRead reports whether scope may see a record of this policy owned by ownerID
func (p Policy) CanRead(scope Scope, ownerID string) bool {
	if !scope.IsUserScoped() {
		return true
	}
	switch p.Visibility {
	case OwnerOnly:
		return ownerID == scope.UserID
	case WorkspaceWide:
		return true
	default:
		return ownerID == "" || ownerID == scope.UserID
	}
}

// CheckWrite validates a mutation of a visible record. Invisible records must
// be reported as not found by the caller before reaching this check.
func (p Policy) CheckWrite(scope Scope, ownerID string) error {
	if p.Immutable {
		return domain.NewValidationError("records of this type are immutable")
	}
	if p.OwnerWrites && scope.IsUserScoped() && ownerID != "" && ownerID != scope.UserID {
		return domain.NewForbiddenError("only the owner may modify this record")
	}
	return nil
}

// typesWith returns the listed types having the given visibility, sorted
func typesWith(v Visibility) []string {
	var out []string
	for t, p := range policies {
		if p.Visibility == v {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
