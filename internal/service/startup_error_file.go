package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bundleactivator/internal/status"
)

// StartupErrorFile is the file name WriteStartupErrorFile writes in logDir.
const StartupErrorFile = "startup-error.log"

// WriteStartupErrorFile records why the host failed before its logger was
// usable. stage names the step that failed. When err carries a host status
// the numeric code is written on its own line so operators can match it
// against the bundle host's status table. Only the most recent error is kept.
func WriteStartupErrorFile(logDir, stage string, err error) {
	_ = os.MkdirAll(logDir, 0755)

	f, ferr := os.Create(filepath.Join(logDir, StartupErrorFile))
	if ferr != nil {
		return
	}
	defer f.Close()

	fmt.Fprint(f, formatStartupError(time.Now(), stage, err))
}

func formatStartupError(now time.Time, stage string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s STARTUP ERROR\n", now.Format("2006-01-02 15:04:05"), Name)
	if stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", stage)
	}

	var se *status.Error
	if errors.As(err, &se) {
		st := status.ToStatus(se)
		fmt.Fprintf(&b, "status: %d (%s)\n", int32(st), st)
	}
	fmt.Fprintf(&b, "%v\n", err)
	return b.String()
}
