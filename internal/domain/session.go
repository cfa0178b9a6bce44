package domain

import "fmt"

// Session is the live, observed view of authentication state at a point in
// time. It is never persisted: the server rebuilds it from the presented
// credential on every request, and the client store maintains it between
// API calls.
type Session struct {
	User            *User  `json:"user"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsLoading       bool   `json:"is_loading"`
	Error           string `json:"error,omitempty"`
}

// Anonymous is the zero session: no user, not authenticated.
func Anonymous() Session {
	return Session{}
}

// Requirements is the set of conditions a session must meet to be admitted.
// Zero-valued fields are not checked.
type Requirements struct {
	RequireVerified        bool
	RequiredRole           Role
	RequireCompleteProfile bool
}

// Verdict is the admit/deny decision with the reason for a denial.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateSession checks a session against the requirements. Conditions are
// evaluated in a fixed order and the first failure wins: authentication,
// then email verification, then role, then profile completeness. The
// ordering keeps the reason actionable: a caller is never told to complete
// their profile before being told to log in.
func ValidateSession(s Session, req Requirements) Verdict {
	if !s.IsAuthenticated || s.User == nil {
		return Verdict{Valid: false, Reason: "No active session"}
	}
	if req.RequireVerified && !s.User.EmailVerified {
		return Verdict{Valid: false, Reason: "Email verification required"}
	}
	if req.RequiredRole != "" && !HasRole(s.User.Role, req.RequiredRole) {
		return Verdict{Valid: false, Reason: fmt.Sprintf("Required role: %s", req.RequiredRole)}
	}
	if req.RequireCompleteProfile && !s.User.ProfileComplete {
		return Verdict{Valid: false, Reason: "Profile completion required"}
	}
	return Verdict{Valid: true}
}
