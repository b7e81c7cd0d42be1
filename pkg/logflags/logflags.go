package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var kmem = false
var kernel = false
var view = false
var query = false
var starlark = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Kmem returns true if the memory image layer should log.
func Kmem() bool {
	return kmem
}

// KmemLogger returns a logger for the memory image layer.
func KmemLogger() Logger {
	return makeFlaggableLogger(kmem, Fields{"layer": "kmem"})
}

// Kernel returns true if the task registry should log its walks.
func Kernel() bool {
	return kernel
}

// KernelLogger returns a logger for the task registry.
func KernelLogger() Logger {
	return makeFlaggableLogger(kernel, Fields{"layer": "kernel"})
}

// View returns true if the renderers should log.
func View() bool {
	return view
}

// ViewLogger returns a logger for the renderers.
func ViewLogger() Logger {
	return makeFlaggableLogger(view, Fields{"layer": "view"})
}

// Query returns true if executed queries should be logged.
func Query() bool {
	return query
}

// QueryLogger returns a logger for the query service.
func QueryLogger() Logger {
	return makeFlaggableLogger(query, Fields{"layer": "query"})
}

// Starlark returns true if starlark script execution should be logged.
func Starlark() bool {
	return starlark
}

// StarlarkLogger returns a logger for starlark script execution.
func StarlarkLogger() Logger {
	return makeFlaggableLogger(starlark, Fields{"layer": "starlark"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "kview-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "query"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "kmem":
			kmem = true
		case "kernel":
			kernel = true
		case "view":
			view = true
		case "query":
			query = true
		case "starlark":
			starlark = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
