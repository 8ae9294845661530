package access

import (
	"context"
	"errors"
	"io"
	"testing"

	"campusbook/internal/domain"
	"campusbook/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	admin := model.Actor{ID: "a1", Role: model.RoleAdmin}
	owner := model.Actor{ID: "u1", Role: model.RoleRequester}
	stranger := model.Actor{ID: "u2", Role: model.RoleRequester}

	tests := []struct {
		name    string
		policy  Policy
		actor   model.Actor
		owner   string
		allowed bool
	}{
		{"admin on admin-only", PolicyAdminOnly, admin, "u1", true},
		{"requester on admin-only", PolicyAdminOnly, owner, "u1", false},
		{"owner on requester-or-admin", PolicyRequesterOrAdmin, owner, "u1", true},
		{"admin on requester-or-admin", PolicyRequesterOrAdmin, admin, "u1", true},
		{"stranger on requester-or-admin", PolicyRequesterOrAdmin, stranger, "u1", false},
		{"empty owner never matches", PolicyRequesterOrAdmin, model.Actor{ID: "u3"}, "", false},
		{"anonymous actor", PolicyAdminOnly, model.Actor{Role: model.RoleAdmin}, "", false},
		{"unknown policy", Policy("anyone"), admin, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check("cancel", tt.policy, tt.actor, tt.owner)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrAuthorization))
		})
	}
}

func TestService_Actor(t *testing.T) {
	logger := zerolog.New(io.Discard)
	svc := NewService([]string{"root", ""}, &logger)

	assert.Equal(t, model.Actor{ID: "root", Role: model.RoleAdmin}, svc.Actor("root"))
	assert.Equal(t, model.Actor{ID: "bob", Role: model.RoleRequester}, svc.Actor("bob"))
	assert.Equal(t, model.RoleRequester, svc.Actor("").Role)

	err := svc.Check(context.Background(), "approve", PolicyAdminOnly, svc.Actor("bob"), "")
	assert.True(t, errors.Is(err, domain.ErrAuthorization))
}
