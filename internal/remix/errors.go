package remix

// SubmissionError indicates a job could not be created: a bad request, a
// network failure, or a non-2xx response from the service.
type SubmissionError struct {
	StatusCode int // zero when no response was received
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return "submit: " + e.Message + ": " + e.Err.Error()
	}
	return "submit: " + e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollError indicates a status query failed, with the same shape as
// SubmissionError.
type PollError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return "poll: " + e.Message + ": " + e.Err.Error()
	}
	return "poll: " + e.Message
}

func (e *PollError) Unwrap() error {
	return e.Err
}
