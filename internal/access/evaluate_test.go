package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedProfile(role Role) *Profile {
	return &Profile{
		UserID:   "user-1",
		Username: "marie",
		Status:   StatusApproved,
		Role:     role,
	}
}

func TestEvaluateSuspendsWhileLoading(t *testing.T) {
	st := State{Loading: true}

	for _, req := range []Requirement{Approved, Moderation, Administration} {
		decision := Evaluate(st, req)
		assert.Equal(t, DecisionLoading, decision.Kind)
		assert.Empty(t, decision.Target)
	}
}

func TestEvaluateUnauthenticated(t *testing.T) {
	st := State{Loading: false, HasSession: false}

	decision := Evaluate(st, Approved)
	require.Equal(t, DecisionRedirect, decision.Kind)
	assert.Equal(t, LoginPath, decision.Target)
	assert.Equal(t, "Vous devez être connecté pour accéder à cette page.", decision.Message)

	// The elevated guard carries its own message but the same destination
	decision = Evaluate(st, Moderation)
	require.Equal(t, DecisionRedirect, decision.Kind)
	assert.Equal(t, LoginPath, decision.Target)
	assert.Equal(t, "Accès administrateur/modérateur refusé. Veuillez vous connecter.", decision.Message)
}

func TestEvaluateMissingProfile(t *testing.T) {
	st := State{
		HasSession: true,
		UserID:     "user-1",
		Resolution: ResolutionNotFound,
	}

	decision := Evaluate(st, Approved)
	require.Equal(t, DecisionRedirect, decision.Kind)
	assert.Equal(t, LoginPath, decision.Target)
	assert.Equal(t, "Votre profil est introuvable. Veuillez vous reconnecter ou contacter un administrateur.", decision.Message)

	decision = Evaluate(st, Administration)
	require.Equal(t, DecisionRedirect, decision.Kind)
	assert.Equal(t, LoginPath, decision.Target)
	assert.Equal(t, "Profil introuvable ou non chargé.", decision.Message)
}

func TestEvaluateApprovalStatuses(t *testing.T) {
	tests := []struct {
		name        string
		status      Status
		wantMessage string
	}{
		{
			name:        "pending approval",
			status:      StatusPendingApproval,
			wantMessage: "Votre compte est en attente d'approbation.",
		},
		{
			name:        "rejected",
			status:      StatusRejected,
			wantMessage: "L'accès à votre compte a été refusé.",
		},
		{
			name:        "unknown status",
			status:      Status("suspended"),
			wantMessage: "Votre compte n'est pas encore approuvé ou son statut est indéterminé.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := State{
				HasSession: true,
				UserID:     "user-1",
				Profile: &Profile{
					UserID: "user-1",
					Status: tt.status,
					Role:   RoleUser,
				},
				Resolution: ResolutionFound,
			}

			decision := Evaluate(st, Approved)
			require.Equal(t, DecisionRedirect, decision.Kind)
			assert.Equal(t, LoginPath, decision.Target)
			assert.Equal(t, tt.wantMessage, decision.Message)

			// Elevated destinations send unapproved accounts home instead
			decision = Evaluate(st, Moderation)
			require.Equal(t, DecisionRedirect, decision.Kind)
			assert.Equal(t, HomePath, decision.Target)
			assert.Equal(t, "Votre compte n'est pas approuvé pour l'accès à cette section.", decision.Message)
		})
	}
}

func TestEvaluateRoleRequirements(t *testing.T) {
	tests := []struct {
		role            Role
		allowModerate   bool
		allowAdminister bool
	}{
		{RoleUser, false, false},
		{RoleModerator, true, false},
		{RoleAdmin, true, true},
		{RoleSuperAdmin, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			st := State{
				HasSession: true,
				UserID:     "user-1",
				Profile:    approvedProfile(tt.role),
				Resolution: ResolutionFound,
			}

			assert.Equal(t, DecisionAllow, Evaluate(st, Approved).Kind)

			modDecision := Evaluate(st, Moderation)
			if tt.allowModerate {
				assert.Equal(t, DecisionAllow, modDecision.Kind)
			} else {
				require.Equal(t, DecisionRedirect, modDecision.Kind)
				assert.Equal(t, HomePath, modDecision.Target)
				assert.Equal(t, "Accès refusé. Vous n'avez pas les droits de modération ou d'administration.", modDecision.Message)
			}

			adminDecision := Evaluate(st, Administration)
			if tt.allowAdminister {
				assert.Equal(t, DecisionAllow, adminDecision.Kind)
			} else {
				require.Equal(t, DecisionRedirect, adminDecision.Kind)
				assert.Equal(t, HomePath, adminDecision.Target)
			}
		})
	}
}

func TestEvaluateModeratorDeniedAdministration(t *testing.T) {
	st := State{
		HasSession: true,
		UserID:     "user-1",
		Profile:    approvedProfile(RoleModerator),
		Resolution: ResolutionFound,
	}

	decision := Evaluate(st, Administration)
	require.Equal(t, DecisionRedirect, decision.Kind)
	assert.Equal(t, HomePath, decision.Target)
	assert.Equal(t, "Accès refusé. Cette action requiert un compte administrateur.", decision.Message)
}

func TestCapabilitiesFor(t *testing.T) {
	assert.Equal(t, Capabilities{IsUser: true}, CapabilitiesFor(RoleUser))
	assert.Equal(t, Capabilities{IsModerator: true, CanModerate: true}, CapabilitiesFor(RoleModerator))
	assert.Equal(t, Capabilities{IsAdmin: true, CanModerate: true, CanAdminister: true}, CapabilitiesFor(RoleAdmin))
	assert.Equal(t, Capabilities{IsSuperAdmin: true, CanModerate: true, CanAdminister: true}, CapabilitiesFor(RoleSuperAdmin))

	// Unknown roles derive nothing
	assert.Equal(t, Capabilities{}, CapabilitiesFor(Role("owner")))
	assert.Equal(t, Capabilities{}, CapabilitiesFor(Role("")))
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"user", "moderator", "admin", "super_admin"} {
		role, ok := ParseRole(valid)
		assert.True(t, ok)
		assert.Equal(t, Role(valid), role)
	}

	_, ok := ParseRole("Administrator")
	assert.False(t, ok)
}
