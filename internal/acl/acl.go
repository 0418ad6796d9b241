// Package acl decides whether a user may access a Tez, independent of how
// team/conversation membership was fetched. Callers gather the membership
// facts from the store layer and pass them in; this package only applies
// the precedence rule. See spec §4.5.
package acl

// Context carries the facts MayAccess needs to reach a decision. Callers
// populate only the fields relevant to the Tez being checked (e.g. a
// team-scoped Tez leaves ConversationMember false).
type Context struct {
	RequestingUserID   string
	SenderUserID       string
	TeamMember         bool
	ConversationMember bool
}

// MayAccess applies sender self-access, then team membership, then
// conversation membership, in that order, and denies otherwise.
func MayAccess(ctx Context) bool {
	if ctx.RequestingUserID == ctx.SenderUserID {
		return true
	}
	if ctx.TeamMember {
		return true
	}
	if ctx.ConversationMember {
		return true
	}
	return false
}

// AdminContext carries the facts IsAdminAction needs.
type AdminContext struct {
	UserRole     string
	AdminUserIDs []string
	UserID       string
}

// IsAdminAction reports whether the user may perform an admin-only
// operation: either their role is admin, or they're explicitly listed in
// the team/server's adminUserIds.
func IsAdminAction(ctx AdminContext) bool {
	if ctx.UserRole == "admin" {
		return true
	}
	for _, id := range ctx.AdminUserIDs {
		if id == ctx.UserID {
			return true
		}
	}
	return false
}
