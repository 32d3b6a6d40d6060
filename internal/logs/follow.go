package logs

import (
	"context"
	"errors"
	"time"
)

// FollowOptions configures Follow.
type FollowOptions struct {
	// Lines is how many existing lines to show before following.
	Lines  int
	Follow bool
	Filter Filter
	// Wait bounds each poll for new output; zero uses one second.
	Wait time.Duration
}

// Follow emits the last opts.Lines matching lines of the log at path and, in
// follow mode, every matching line written afterwards until ctx ends. With a
// filter, the backlog is taken from the last opts.Lines lines of the file
// before filtering.
func Follow(ctx context.Context, path string, opts FollowOptions, emit func(string)) error {
	wait := opts.Wait
	if wait <= 0 {
		wait = time.Second
	}
	emitMatching := func(lines []string) {
		for _, line := range lines {
			if opts.Filter.Match(line) {
				emit(line)
			}
		}
	}

	result, err := Tail(ctx, path, TailOptions{Offset: -1, Limit: opts.Lines})
	if err != nil {
		return err
	}
	emitMatching(result.Lines)
	offset := result.Offset

	for opts.Follow {
		result, err = Tail(ctx, path, TailOptions{Offset: offset, Follow: true, Wait: wait})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		emitMatching(result.Lines)
		offset = result.Offset
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}
