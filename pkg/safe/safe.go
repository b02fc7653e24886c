package safe

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
)

func Run(fn func()) {
	RunWithLog(fn, "safe.Run")
}

// RunWithLog executes fn and logs any panic with its stack trace.
func RunWithLog(fn func(), component string) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(r, component)
		}
	}()

	fn()
}

// RunWithError executes fn and turns a panic into an error so stream
// handlers can still close their response.
func RunWithError(fn func() error, component string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(r, component)
			err = fmt.Errorf("%s panic: %v", component, r)
		}
	}()

	return fn()
}

func logPanic(r any, component string) {
	slog.Error("panic recovered",
		slog.Any("recover", r),
		slog.String("component", component),
		slog.String("stack", getStackTrace(20)),
	)
}

// getStackTrace returns at most maxLines lines of the current stack.
func getStackTrace(maxLines int) string {
	lines := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")

	formatted := []string{"Stack trace:"}
	for i, line := range lines {
		if i >= maxLines {
			formatted = append(formatted, "  ... (truncated)")
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			formatted = append(formatted, "  "+line)
		}
	}
	return strings.Join(formatted, "\n")
}
