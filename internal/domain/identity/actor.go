package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/apperr"
)

// ActorFromContext builds the acting user from the authenticated request
// context.
func ActorFromContext(ctx context.Context) (Actor, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, apperr.Forbidden("unauthenticated user")
	}
	role := Role(auth.RoleFromContext(ctx))
	if !role.Valid() {
		return Actor{}, apperr.Forbidden("unknown role")
	}
	return Actor{UserID: id, Role: role}, nil
}
