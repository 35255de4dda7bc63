package export

import (
	"errors"
	"fmt"
)

// Error kinds returned by Export. Match them with errors.Is.
var (
	// ErrFailedToCreateComposition means no usable video track was found or
	// its media could not be inserted into the composition.
	ErrFailedToCreateComposition = errors.New("failed to create composition")
	// ErrFailedToCreateExportSession means the encoder refused the assembled composition.
	ErrFailedToCreateExportSession = errors.New("failed to create export session")
	// ErrExportFailed means the encode started but did not finish. A partial
	// output file may exist and should be discarded.
	ErrExportFailed = errors.New("export failed")
	// ErrInvalidAsset means the source could not be read far enough to list its tracks.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrAlreadyStarted is returned when Export is called twice on one Exporter.
	ErrAlreadyStarted = errors.New("exporter already started")
)

// Error is a failed export. Kind is one of the error kinds above and Cause,
// when known, is what the underlying collaborator reported.
type Error struct {
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Is reports whether target is e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf returns a stable name for the kind of err, suitable for API
// responses, or "" if err is not an export error.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFailedToCreateComposition):
		return "FAILED_TO_CREATE_COMPOSITION"
	case errors.Is(err, ErrFailedToCreateExportSession):
		return "FAILED_TO_CREATE_EXPORT_SESSION"
	case errors.Is(err, ErrExportFailed):
		return "EXPORT_FAILED"
	case errors.Is(err, ErrInvalidAsset):
		return "INVALID_ASSET"
	case errors.Is(err, ErrAlreadyStarted):
		return "ALREADY_STARTED"
	}
	return ""
}
