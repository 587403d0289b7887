package core

import "errors"

// Error kinds surfaced as GraphQL errors on the owning endpoint (spec §7).
var (
	// Auth / admission
	ErrInvalidToken   = errors.New("invalid token")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrUnauthorized   = errors.New("unauthorized")

	// Registry
	ErrRoomAlreadyExists          = errors.New("room already exists")
	ErrNoSuchRoom                 = errors.New("no such room")
	ErrSessionAlreadyExists       = errors.New("session already exists")
	ErrNoSuchSession              = errors.New("no such session")
	ErrVulcastSessionAlreadyBound = errors.New("vulcast session already bound to a room")

	// Resource
	ErrNoSuchTransport          = errors.New("no such transport")
	ErrNoSuchProducer           = errors.New("no such producer")
	ErrNoSuchConsumer           = errors.New("no such consumer")
	ErrTransportAlreadyConnected = errors.New("transport already connected")

	// Capability
	ErrCannotConsume     = errors.New("cannot consume: capability mismatch or self-consume")
	ErrInvalidParameters = errors.New("invalid parameters")

	// Infrastructure
	ErrWorkerCrashed = errors.New("media worker crashed")
	ErrInternal      = errors.New("internal error")
)
