package auth

import "errors"

var (
	ErrNoMembership  = errors.New("auth: no organization membership")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
)
