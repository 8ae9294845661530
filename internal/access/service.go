// Package access provides the capability checks applied to booking operations.
package access

import (
	"context"

	"campusbook/internal/domain"
	"campusbook/internal/model"

	"github.com/rs/zerolog"
)

// Policy names the capability an operation requires.
type Policy string

const (
	// PolicyAdminOnly allows administrators only.
	PolicyAdminOnly Policy = "admin-only"
	// PolicyRequesterOrAdmin allows the booking owner or an administrator.
	PolicyRequesterOrAdmin Policy = "requester-or-admin"
)

// Service checks actors against policies and resolves roles for known actor ids.
type Service struct {
	admins map[string]struct{}
	logger zerolog.Logger
}

// NewService creates an access service. Ids listed in admins resolve to RoleAdmin.
func NewService(admins []string, logger *zerolog.Logger) *Service {
	set := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &Service{
		admins: set,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// Actor builds the actor for an id using the configured administrator list.
func (s *Service) Actor(id string) model.Actor {
	if _, ok := s.admins[id]; ok {
		return model.Actor{ID: id, Role: model.RoleAdmin}
	}
	return model.Actor{ID: id, Role: model.RoleRequester}
}

// Check returns an authorization error when actor does not satisfy policy.
// ownerID is the requester of the booking and only matters for PolicyRequesterOrAdmin.
func (s *Service) Check(ctx context.Context, op string, policy Policy, actor model.Actor, ownerID string) error {
	if err := Check(op, policy, actor, ownerID); err != nil {
		s.logger.Warn().
			Str("op", op).
			Str("policy", string(policy)).
			Str("actor_id", actor.ID).
			Str("role", string(actor.Role)).
			Msg("access denied")
		return err
	}
	return nil
}

// Check is the stateless form of Service.Check.
func Check(op string, policy Policy, actor model.Actor, ownerID string) error {
	if actor.ID == "" {
		return domain.Authorization(op, "actor id is required")
	}

	switch policy {
	case PolicyAdminOnly:
		if actor.IsAdmin() {
			return nil
		}
		return domain.Authorization(op, "actor %s is not an administrator", actor.ID)
	case PolicyRequesterOrAdmin:
		if actor.IsAdmin() || (ownerID != "" && actor.ID == ownerID) {
			return nil
		}
		return domain.Authorization(op, "actor %s is neither the requester nor an administrator", actor.ID)
	default:
		return domain.Authorization(op, "unknown policy %q", policy)
	}
}
