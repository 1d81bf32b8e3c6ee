package models

// JobProgress tallies outcomes for the job in flight. Owned by the runner;
// created when a job is dequeued and discarded at completion.
type JobProgress struct {
	Submitted     int `json:"submitted"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	TotalSelected int `json:"total_selected"`
}

// Count adds one terminal outcome to the tally
func (p *JobProgress) Count(status SubmissionStatus) {
	switch status {
	case StatusSubmitted:
		p.Submitted++
	case StatusFailed:
		p.Failed++
	case StatusSkipped:
		p.Skipped++
	}
}

// Realized returns the number of directories with a terminal outcome
func (p *JobProgress) Realized() int {
	return p.Submitted + p.Failed + p.Skipped
}

// Percent returns completion as a fraction in [0,1]
func (p *JobProgress) Percent() float64 {
	if p.TotalSelected == 0 {
		return 1
	}
	return float64(p.Realized()) / float64(p.TotalSelected)
}

// Summary converts the tally into the completion-call aggregate
func (p *JobProgress) Summary(processingSeconds float64) JobSummary {
	return JobSummary{
		TotalDirectories:      p.TotalSelected,
		SuccessfulSubmissions: p.Submitted,
		FailedSubmissions:     p.Failed,
		SkippedSubmissions:    p.Skipped,
		ProcessingTimeSeconds: processingSeconds,
	}
}

// ErrorTail keeps the most recent error messages for diagnosis. Bounded
// FIFO; oldest entries are dropped first. Not safe for concurrent use.
type ErrorTail struct {
	limit    int
	messages []string
}

// NewErrorTail creates a tail bounded to limit entries
func NewErrorTail(limit int) *ErrorTail {
	if limit < 1 {
		limit = 1
	}
	return &ErrorTail{limit: limit}
}

// Push appends a message, evicting the oldest when full
func (e *ErrorTail) Push(message string) {
	if message == "" {
		return
	}
	e.messages = append(e.messages, message)
	if len(e.messages) > e.limit {
		e.messages = e.messages[len(e.messages)-e.limit:]
	}
}

// Messages returns the retained messages oldest-first
func (e *ErrorTail) Messages() []string {
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}
