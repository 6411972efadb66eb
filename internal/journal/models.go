package journal

import "time"

// Acquisition outcome values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry records one archive acquisition.
type Entry struct {
	ID           string // uuid
	Owner        string
	Repo         string
	Ref          string
	Commit       string
	Transport    string // "mirror" or "direct", empty when the download never succeeded
	Mirror       string // clean base URL, never carries credentials
	TargetDir    string
	Bytes        int64
	SHA256       string
	Status       string
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}

// Duration returns the wall time the acquisition took.
func (e *Entry) Duration() time.Duration {
	if e.EndTime.IsZero() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}
