package ledger

import "errors"

var (
	// ErrUnknownModule indicates the module id is not in the catalog.
	// The ledger is left unchanged.
	ErrUnknownModule = errors.New("unknown module")

	// ErrUnknownTask indicates the catalog does not list the task under
	// the module. The ledger is left unchanged.
	ErrUnknownTask = errors.New("unknown task")
)
