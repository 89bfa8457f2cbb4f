package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidAmount   = errors.New("computed net amount is not positive")
	ErrExpired         = errors.New("listing expired")
	ErrForbidden       = errors.New("forbidden")
	ErrDeviceMismatch  = errors.New("access token bound to another device")
	ErrAlreadyConsumed = errors.New("payment session already completed")
	ErrUnknownChannel  = errors.New("unknown payment channel")
)
