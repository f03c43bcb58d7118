package domain

import "errors"

var (
	// ErrUnknownTenant means a tenant was referenced that is not configured.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrTenantNotIdentified means the identity carries no tenant context; the client must re-authenticate.
	ErrTenantNotIdentified = errors.New("tenant not identified")
	// ErrRoutingFailure means a valid tenant reference could not be routed to a pool.
	ErrRoutingFailure = errors.New("tenant routing failure")
	// ErrPoolTimeout means no connection could be acquired before the connect timeout.
	ErrPoolTimeout = errors.New("pool acquisition timed out")

	ErrRegistryClosed  = errors.New("tenant registry closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrReservedGroup   = errors.New("group name is reserved")
	ErrInvalidGroup    = errors.New("invalid group name")
	ErrBusUnavailable  = errors.New("event bus unavailable")
)
