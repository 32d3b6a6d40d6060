package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"scribe/internal/config"
	"scribe/internal/deps"
	"scribe/internal/inference"
	"scribe/internal/services"
)

// HealthChecker is satisfied by the inference client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CheckEngine verifies that the inference engine answers its health endpoint.
// It uses a 5-second timeout and a single attempt.
func CheckEngine(ctx context.Context, engine HealthChecker) Result {
	const name = "Inference engine"
	if engine == nil {
		return Result{Name: name, Detail: "not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := engine.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeEngineError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckEngineFromConfig builds a client from cfg and checks it.
func CheckEngineFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Inference engine", Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Engine.Endpoint) == "" {
		return Result{Name: "Inference engine", Detail: "Missing endpoint"}
	}
	result := CheckEngine(ctx, inference.NewClient(cfg.Engine, nil))
	result.Detail = fmt.Sprintf("%s (%s)", result.Detail, cfg.Engine.Endpoint)
	return result
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path keeps at least minFree
// bytes available.
func CheckFreeSpace(name, path string, minFree int64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%s free of %s", humanize.IBytes(free), humanize.IBytes(stat.Blocks*uint64(stat.Bsize)))
	if minFree > 0 && free < uint64(minFree) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (below %s minimum)", detail, humanize.IBytes(uint64(minFree)))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the external binaries the daemon uses. Both the
// daemon and the CLI status command call this so the requirement list lives
// in one place.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		deps.FFprobe(cfg.Ingest.FFprobeBinary, cfg.Ingest.RequireProbe),
	})
}

func summarizeEngineError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrTimeout) {
		return "health check timed out (engine unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (engine unreachable)"
	}
	var statusErr *inference.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("health check failed (%d)", statusErr.StatusCode)
	}
	if errors.Is(err, services.ErrUnavailable) {
		return "unreachable"
	}
	return err.Error()
}
