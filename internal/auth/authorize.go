package auth

// Authorize reports whether perms grants required.
func Authorize(perms PermissionSet, required Permission) bool {
	return perms.Allows(required)
}

// Require returns a *PermissionError naming required when the credential lacks it.
func Require(cred Credential, required Permission) error {
	if !Authorize(cred.Permissions, required) {
		return &PermissionError{Permission: required}
	}
	return nil
}

// RequireRole returns a *RoleError when the credential ranks below min.
func RequireRole(cred Credential, min Role) error {
	if !AtLeast(cred.Role, min) {
		return &RoleError{Required: min}
	}
	return nil
}
