package tlogger

import (
	"io"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Log is the default logger for apps
var Log log.Logger

var (
	mu   sync.RWMutex
	hlog log.Logger

	out = io.Writer(os.Stdout)
	lvl = "info"
)

func init() {
	setup()
}

func setup() {
	base := log.NewLogfmtLogger(log.NewSyncWriter(out))
	Log = filter(log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5)), lvl)
	hlog = filter(log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.Caller(6)), lvl)
}

func filter(l log.Logger, lvl string) log.Logger {
	switch lvl {
	case "debug":
		return level.NewFilter(l, level.AllowDebug())
	case "warn":
		return level.NewFilter(l, level.AllowWarn())
	case "error":
		return level.NewFilter(l, level.AllowError())
	case "all":
		return level.NewFilter(l, level.AllowAll())
	default:
		return level.NewFilter(l, level.AllowInfo())
	}
}

// ApplyLogLevel sets the min logging level. Unknown values fall back to info.
func ApplyLogLevel(l string) {
	mu.Lock()
	defer mu.Unlock()
	lvl = l
	setup()
}

// SetOutput redirects every logger to w, mostly used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	setup()
}

func current() log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return hlog
}

// Debug add a log entry w/ Debug level
func Debug(keyvals ...interface{}) {
	level.Debug(current()).Log(keyvals...)
}

// Info add a log entry w/ Info level
func Info(keyvals ...interface{}) {
	level.Info(current()).Log(keyvals...)
}

// Warn add a log entry w/ Warn level
func Warn(keyvals ...interface{}) {
	level.Warn(current()).Log(keyvals...)
}

// Error add a log entry w/ Error level
func Error(keyvals ...interface{}) {
	level.Error(current()).Log(keyvals...)
}

// FatalIf prints a fatal Error level and exits if err != nil
func FatalIf(err error) {
	if err == nil {
		return
	}
	level.Error(current()).Log("err", err)
	os.Exit(1)
}
