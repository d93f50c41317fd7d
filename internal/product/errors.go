package product

import "errors"

var (
	// ErrInvalidQuery marks an empty or malformed shopping question.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidInput marks a malformed Judge input (empty question or candidates).
	ErrInvalidInput = errors.New("invalid input")
	// ErrSearchUnavailable marks a failed or timed out search collaborator call.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrJudgeFormat marks a reasoning collaborator that never produced a valid ranking.
	ErrJudgeFormat = errors.New("judge could not produce a valid ranking")
	// ErrReasonerUnavailable marks a failed reasoning collaborator call.
	ErrReasonerUnavailable = errors.New("reasoning service unavailable")
)

// IsClientError reports whether err is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}
