package domain

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserInactive       = errors.New("user is deactivated")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrSessionNotFound    = errors.New("stream session not found")
	ErrSessionEnded       = errors.New("stream session already ended")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionSuperseded  = errors.New("session superseded by another device")
)
