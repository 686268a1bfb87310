package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/Slach/clickhouse-logcontext/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const mainPackage = "github.com/Slach/clickhouse-logcontext/"

var headerFields = map[string]bool{"time": true, "level": true, "message": true, "caller": true}

// textWriter turns zerolog JSON events into one readable text block per event.
// Multiline string fields (SQL, stack traces) are written as indented blocks.
type textWriter struct {
	Out io.Writer
}

func (w *textWriter) Write(p []byte) (int, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(p), &fields); err != nil {
		return w.Out.Write(p)
	}

	header := func(name string) string {
		var s string
		_ = json.Unmarshal(fields[name], &s)
		return s
	}

	var out strings.Builder
	if ts := header("time"); ts != "" {
		out.WriteString(ts + " ")
	}
	if level := header("level"); level != "" {
		out.WriteString(strings.ToUpper(level) + " ")
	}
	if caller := header("caller"); caller != "" {
		out.WriteString(caller + " > ")
	}
	out.WriteString(header("message"))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !headerFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		out.WriteString(" " + k + "=")
		raw := fields[k]
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			s = strings.TrimSuffix(s, "\n")
			if strings.Contains(s, "\n") {
				out.WriteString("\n" + indent(s) + "\n")
			} else {
				out.WriteString(s)
			}
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			out.WriteString(fmt.Sprint(v))
			continue
		}
		out.Write(raw)
	}
	out.WriteString("\n")

	if _, err := io.WriteString(w.Out, out.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

// stackMarshaler prefers the stack recorded by pkg/errors and falls back to the
// stack at the logging call site.
func stackMarshaler(err error) interface{} {
	if stackErr, ok := err.(interface{ StackTrace() errors.StackTrace }); ok {
		if st := stackErr.StackTrace(); len(st) > 0 {
			parts := strings.Split(fmt.Sprintf("%+v", st[0]), "\n\t")
			if len(parts) >= 2 {
				return fmt.Sprintf("%s > %s", strings.TrimPrefix(parts[1], mainPackage), strings.TrimPrefix(parts[0], mainPackage))
			}
		}
	}

	pcs := make([]uintptr, 10)
	// skip runtime.Callers, this function and the zerolog frame calling it
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			_, _ = fmt.Fprintf(&b, "%s:%d > %s\n", strings.TrimPrefix(frame.File, mainPackage), frame.Line, strings.TrimPrefix(frame.Function, mainPackage))
		}
		if !more {
			break
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return b.String()
}

// InitConsoleStdErrLog sets up console logging to stderr, used until the log file is open
func InitConsoleStdErrLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = stackMarshaler
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return strings.TrimPrefix(file, mainPackage) + ":" + strconv.Itoa(line)
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Caller().
		Logger()
}

// fatalStackHook adds stack traces to Fatal level logs
type fatalStackHook struct{}

func (h fatalStackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.FatalLevel {
		e.Stack()
	}
}

// SetLevel applies a textual log level, empty keeps the current one
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// DefaultLogPath is where the log file goes when --log is not set
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, types.HomeDirName, types.AppName+".log"), nil
}

// InitLogFile moves logging into a file; the terminal belongs to the viewer from then on
func InitLogFile(cliInstance *types.CLI, version string) error {
	logPath := ""
	if cliInstance != nil {
		logPath = cliInstance.LogPath
		if err := SetLevel(cliInstance.LogLevel); err != nil {
			return err
		}
	}
	if logPath == "" {
		var err error
		if logPath, err = DefaultLogPath(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open log file")
	}

	log.Logger = zerolog.New(zerolog.SyncWriter(&textWriter{Out: logFile})).
		With().
		Timestamp().
		Caller().
		Str("version", version).
		Logger().
		Hook(fatalStackHook{})

	return nil
}
