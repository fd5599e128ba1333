// Package auditcontext carries request-scoped actor metadata used by the
// audit trail.
package auditcontext

import "context"

type contextKey string

const (
	requestIDKey contextKey = "audit_request_id"
	actorTypeKey contextKey = "audit_actor_type"
	actorIDKey   contextKey = "audit_actor_id"
	actorRoleKey contextKey = "audit_actor_role"
	ipAddressKey contextKey = "audit_ip_address"
	userAgentKey contextKey = "audit_user_agent"
)

// Actor type labels for audit records.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Actor describes the caller performing an operation.
type Actor struct {
	Type string
	ID   string
	Role string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	if actor.Type != "" {
		ctx = context.WithValue(ctx, actorTypeKey, actor.Type)
	}
	if actor.ID != "" {
		ctx = context.WithValue(ctx, actorIDKey, actor.ID)
	}
	if actor.Role != "" {
		ctx = context.WithValue(ctx, actorRoleKey, actor.Role)
	}
	return ctx
}

func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	actorType, _ := ctx.Value(actorTypeKey).(string)
	actorID, _ := ctx.Value(actorIDKey).(string)
	actorRole, _ := ctx.Value(actorRoleKey).(string)
	return Actor{Type: actorType, ID: actorID, Role: actorRole}
}

func WithIPAddress(ctx context.Context, ipAddress string) context.Context {
	if ipAddress == "" {
		return ctx
	}
	return context.WithValue(ctx, ipAddressKey, ipAddress)
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ipAddressKey).(string)
	return value
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	if userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userAgentKey).(string)
	return value
}
