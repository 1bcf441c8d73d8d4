package definition

import "errors"

// Load and registration errors.
var (
	// ErrNilDefinition is returned when a source yields a nil entry.
	ErrNilDefinition = errors.New("definition is nil")

	// ErrMissingIdentifier is returned when a definition has no name.
	ErrMissingIdentifier = errors.New("definition has no identifier")

	// ErrMissingHandler is returned when a definition has no handler.
	ErrMissingHandler = errors.New("definition has no handler")

	// ErrMissingDescription is returned when a command has no description.
	ErrMissingDescription = errors.New("command has no description")

	// ErrInvalidIdentifier is returned when a name is not accepted by Discord
	// or cannot be routed.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnknownKind is returned for a definition kind outside the known set.
	ErrUnknownKind = errors.New("unknown definition kind")

	// ErrDuplicateIdentifier is returned when an identifier is already registered in its class.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
)
