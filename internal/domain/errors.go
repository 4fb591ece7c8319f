package domain

import "errors"

var (
	// ErrNotFound marks a missing local artifact (file or directory).
	ErrNotFound = errors.New("not found")
	// ErrIO marks a read or write failure on local files or the store.
	ErrIO = errors.New("i/o error")
	// ErrRemoteService marks any failure reported by the remote assistant service.
	ErrRemoteService = errors.New("remote assistant service error")
	// ErrInvalidSyncRecord marks a persisted sync record with missing or empty fields.
	ErrInvalidSyncRecord = errors.New("invalid assistant sync record")
	// ErrMalformedToolArguments marks tool-call arguments that are not a JSON object.
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
	// ErrUnregisteredTool marks a tool call naming a function absent from the registry.
	ErrUnregisteredTool = errors.New("unregistered tool")
)
