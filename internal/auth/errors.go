package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidInput      = errors.New("auth: invalid input")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrExpired           = errors.New("auth: credential expired")
	ErrMalformed         = errors.New("auth: malformed credential")
	ErrRevokedSession    = errors.New("auth: session revoked")
	ErrPermissionDenied  = errors.New("auth: permission denied")
	ErrRoleDenied        = errors.New("auth: role too low")
	ErrNotBootstrappable = errors.New("auth: bootstrap impossible, session keys already exist")
)

// PermissionError names the permission tag a caller was missing.
type PermissionError struct {
	Permission Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing permission: %s", e.Permission)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// RoleError names the minimum role an operation requires.
type RoleError struct {
	Required Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("role %s required", e.Required)
}

func (e *RoleError) Unwrap() error { return ErrRoleDenied }
