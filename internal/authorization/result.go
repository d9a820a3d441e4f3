package authorization

// ProcessResult is the outcome of one Plugin.Process call (spec.md §4.2).
type ProcessResult int

const (
	// Success means the challenge was transmitted and a reply is
	// queued; the caller returns 403 prompting the user for the code.
	Success ProcessResult = iota
	// Failed means transmission failed and an error reply is queued.
	Failed
	// Suspended means the plugin is still waiting on an external event
	// and the deadline passed before it resolved; the caller returns
	// 202 with "still pending" instructions.
	Suspended
	// Finished means the challenge is already satisfied; the caller
	// releases the key share.
	Finished
	// SuccessReplyFailed is Success but the HTTP reply could not be
	// queued; the caller closes the connection.
	SuccessReplyFailed
	// FailedReplyFailed is Failed but the HTTP reply could not be
	// queued; the caller closes the connection.
	FailedReplyFailed
)

func (r ProcessResult) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	case Suspended:
		return "SUSPENDED"
	case Finished:
		return "FINISHED"
	case SuccessReplyFailed:
		return "SUCCESS_REPLY_FAILED"
	case FailedReplyFailed:
		return "FAILED_REPLY_FAILED"
	default:
		return "UNKNOWN"
	}
}
