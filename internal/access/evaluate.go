package access

// Navigation targets used by redirect decisions.
const (
	LoginPath = "/connexion"
	HomePath  = "/"
)

// Requirement selects how much standing a guarded destination demands.
type Requirement int

const (
	// Approved admits any authenticated, approved visitor.
	Approved Requirement = iota
	// Moderation additionally requires a moderation-capable role.
	Moderation
	// Administration additionally requires an administrator role.
	Administration
)

// DecisionKind is the outcome category of an access evaluation.
type DecisionKind int

const (
	// DecisionLoading suspends the decision until resolution completes.
	DecisionLoading DecisionKind = iota
	// DecisionRedirect denies access and names where to send the visitor.
	DecisionRedirect
	// DecisionAllow passes through to the guarded content.
	DecisionAllow
)

// Decision is the result of evaluating a State against a Requirement.
// Redirects always carry a short human-readable reason.
type Decision struct {
	Kind    DecisionKind
	Target  string
	Message string
}

func allow() Decision {
	return Decision{Kind: DecisionAllow}
}

func redirect(target, message string) Decision {
	return Decision{Kind: DecisionRedirect, Target: target, Message: message}
}

// Evaluate maps resolved auth state to a navigation decision. The elevated
// requirements repeat the baseline approval check on purpose: a moderation
// destination must never rely on an upstream guard having run.
func Evaluate(st State, req Requirement) Decision {
	if st.Loading {
		return Decision{Kind: DecisionLoading}
	}

	elevated := req == Moderation || req == Administration

	if !st.HasSession {
		if elevated {
			return redirect(LoginPath, "Accès administrateur/modérateur refusé. Veuillez vous connecter.")
		}
		return redirect(LoginPath, "Vous devez être connecté pour accéder à cette page.")
	}

	if st.Profile == nil {
		if elevated {
			return redirect(LoginPath, "Profil introuvable ou non chargé.")
		}
		return redirect(LoginPath, "Votre profil est introuvable. Veuillez vous reconnecter ou contacter un administrateur.")
	}

	if st.Profile.Status != StatusApproved {
		if elevated {
			return redirect(HomePath, "Votre compte n'est pas approuvé pour l'accès à cette section.")
		}
		switch st.Profile.Status {
		case StatusPendingApproval:
			return redirect(LoginPath, "Votre compte est en attente d'approbation.")
		case StatusRejected:
			return redirect(LoginPath, "L'accès à votre compte a été refusé.")
		default:
			return redirect(LoginPath, "Votre compte n'est pas encore approuvé ou son statut est indéterminé.")
		}
	}

	caps := CapabilitiesFor(st.Profile.Role)
	switch req {
	case Moderation:
		if !caps.CanModerate {
			return redirect(HomePath, "Accès refusé. Vous n'avez pas les droits de modération ou d'administration.")
		}
	case Administration:
		if !caps.CanAdminister {
			return redirect(HomePath, "Accès refusé. Cette action requiert un compte administrateur.")
		}
	}

	return allow()
}
