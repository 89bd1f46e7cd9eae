package apperror

var (
	// Shared domain errors
	ErrUserNotFound     = NotFound("user not found")
	ErrMessageNotFound  = NotFound("message not found")
	ErrGroupNotFound    = NotFound("group not found")
	ErrCallNotFound     = NotFound("call not found")
	ErrNotGroupMember   = Forbidden("not a member of this group")
	ErrNotCallMember    = Forbidden("not a participant of this call")
	ErrNotMessageMember = Forbidden("not a participant of this conversation")
	ErrEmptyMessage     = InvalidArg("message must have content or a media url")
	ErrInvalidID        = InvalidArg("invalid id")
)

func ErrSendFailed(cause error) error {
	return Wrap(CodeInternal, "message was not stored", cause)
}

func ErrStorage(cause error) error {
	return Wrap(CodeInternal, "storage failure", cause)
}
