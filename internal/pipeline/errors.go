package pipeline

import (
	"errors"
	"fmt"

	"scribe/internal/services"
)

// StageJob names failures that belong to the run as a whole rather than one
// stage, such as the job wall-clock limit.
const StageJob = "pipeline"

// ErrCancelled is returned when a checkpoint observes a cancellation request.
var ErrCancelled = errors.New("job cancelled")

// StageError is a failure attributed to one pipeline stage.
type StageError struct {
	Stage     string
	Transient bool
	Attempts  int
	Err       error
}

func (e *StageError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed (%s, %d attempts): %v", e.Stage, kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is maps the stage error onto the service markers.
func (e *StageError) Is(target error) bool {
	switch target {
	case services.ErrTransient:
		return e.Transient
	case services.ErrFatal:
		return !e.Transient
	}
	return false
}

// FailedStage returns the stage name carried by err, or empty.
func FailedStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
