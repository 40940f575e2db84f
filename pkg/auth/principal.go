// Package auth carries the already-authenticated caller identity through
// the request lifecycle. It performs no authentication of its own: the
// API facade's middleware chain trusts an upstream gateway (or a
// development shim) to set the principal header, mirroring the role
// model the storage layer's row-level-security policies once enforced
// at the database, now enforced in the queue service instead.
package auth

import (
	"context"

	"github.com/parsehaven/docforge/pkg/coreerr"
)

// Permission is a single capability bit a Principal may hold.
type Permission int

const (
	// TaskSubmit allows enqueueing new tasks.
	TaskSubmit Permission = iota
	// TaskCancel allows cancelling a task the principal owns (or any
	// task, combined with GlobalView).
	TaskCancel
	// QueueView allows reading queue stats and task listings.
	QueueView
	// QueueAdmin allows triggering ResetStale/PurgeOld maintenance
	// operations out of band from the scheduler.
	QueueAdmin
)

// Role is a named bundle of permissions, mirroring the admin/legal/
// user_role split the storage layer used to enforce directly.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Principal is the resolved identity attached to a request context by
// the auth-extraction middleware before any handler runs.
type Principal struct {
	UserID      string
	Role        Role
	Permissions map[Permission]bool
	// GlobalView lets an operator or admin see and act on tasks they do
	// not own, bypassing the owner-isolation filter the queue service
	// otherwise applies to every list/cancel/get call.
	GlobalView bool
}

// Allows reports whether the principal holds a permission bit.
func (p Principal) Allows(perm Permission) bool {
	if p.Permissions == nil {
		return false
	}
	return p.Permissions[perm]
}

// ForRole builds the default permission set for a role. Callers may
// still override individual bits (e.g. a scoped service account).
func ForRole(userID string, role Role) Principal {
	p := Principal{UserID: userID, Role: role, Permissions: map[Permission]bool{}}
	switch role {
	case RoleAdmin:
		p.Permissions[TaskSubmit] = true
		p.Permissions[TaskCancel] = true
		p.Permissions[QueueView] = true
		p.Permissions[QueueAdmin] = true
		p.GlobalView = true
	case RoleOperator:
		p.Permissions[TaskSubmit] = true
		p.Permissions[TaskCancel] = true
		p.Permissions[QueueView] = true
		p.GlobalView = true
	case RoleUser:
		p.Permissions[TaskSubmit] = true
		p.Permissions[TaskCancel] = true
		p.Permissions[QueueView] = true
	}
	return p
}

type contextKey int

const principalKey contextKey = iota

// WithContext attaches a Principal to ctx.
func WithContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the Principal attached by the extraction
// middleware. Absence is a programming error, not a client error: every
// route behind the authenticated subrouter must run the middleware.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, coreerr.New(coreerr.KindPermissionDenied, "no principal attached to request")
	}
	return p, nil
}

// Require checks perm and returns a KindPermissionDenied error message
// the API facade can surface verbatim to the caller.
func Require(p Principal, perm Permission) error {
	if !p.Allows(perm) {
		return coreerr.New(coreerr.KindPermissionDenied, "principal lacks required permission")
	}
	return nil
}

// CanAccessOwner reports whether p may act on a task owned by ownerID:
// either p owns it, or p has the global-view bypass.
func CanAccessOwner(p Principal, ownerID string) bool {
	return p.GlobalView || p.UserID == ownerID
}
