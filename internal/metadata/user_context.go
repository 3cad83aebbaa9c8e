package metadata

// UserContext is the authenticated caller as seen by the engine: the
// subject id and role set carried by the access token. Auth middleware
// builds it; entity access checks and audit stamping consume it.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user holds a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks whether the user holds at least one of the given
// roles. Entity access lists are matched this way.
func (u *UserContext) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user holds the admin role, which bypasses
// entity access lists.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
