package pipeline

// Status is the lifecycle state of a generation request.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusGenerating, StatusDone, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s stays put until the request is re-triggered.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether s may move to next. There is no cancel
// transition: a running generation always ends in done or error.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusGenerating
	case StatusGenerating:
		return next == StatusDone || next == StatusError
	case StatusDone, StatusError:
		return next == StatusGenerating
	}
	return false
}

// Sources returns every status that may transition to s.
func (s Status) Sources() []Status {
	var out []Status
	for _, from := range []Status{StatusIdle, StatusGenerating, StatusDone, StatusError} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}
