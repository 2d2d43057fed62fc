package scoring

// Status distinguishes a computed assessment from the ways it can be missing.
type Status string

// Statuses.
const (
	StatusOK                  Status = "ok"
	StatusNoDevice            Status = "no_device"
	StatusNoData              Status = "no_data"
	StatusInsufficientHistory Status = "insufficient_history"
)

// Message is the user-facing explanation of s.
func (s Status) Message() string {
	switch s {
	case StatusNoDevice:
		return "no device connected"
	case StatusNoData:
		return "no data in window"
	case StatusInsufficientHistory:
		return "insufficient history for trend comparison"
	default:
		return ""
	}
}
