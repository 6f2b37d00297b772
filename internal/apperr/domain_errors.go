package apperr

var (
	ErrEmptyMessage      = InvalidArg("message text cannot be empty")
	ErrMissingUser       = InvalidArg("sender and receiver are required")
	ErrSelfTarget        = InvalidArg("cannot target yourself")
	ErrInvalidCallKind   = InvalidArg("call kind must be voice or video")
	ErrPeerUnreachable   = Unavailable("user is not online")
	ErrBusy              = FailedPrecondition("a call between these users is already active")
	ErrNoActiveCall      = FailedPrecondition("no active call with this user")
	ErrInvalidTransition = FailedPrecondition("call is not in a state that allows this")
	ErrNotAnnounced      = FailedPrecondition("connection has not announced an identity")
	ErrIdentityMismatch  = Forbidden("announced identity does not match the token")
	ErrConnectionClosed  = FailedPrecondition("connection is closed")
)

func ErrPersistFailed(cause error) error {
	return Wrap(CodeInternal, "failed to store record", cause)
}

func ErrQueryFailed(cause error) error {
	return Wrap(CodeInternal, "failed to load history", cause)
}
