package sys

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
)

// CreateShutdownChannel returns a channel that receives once on SIGINT or SIGTERM.
func CreateShutdownChannel() chan os.Signal {
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	return done
}

func panicError(skip int, r any) error {
	var err error
	switch v := r.(type) {
	case error:
		err = errors.WrapWithDepth(skip, v, "panic")
	default:
		err = errors.NewWithDepthf(skip, "panic: %v", v)
	}
	return err
}

// RecoverPanic logs a recovered panic with its stack. Call it deferred.
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		err := panicError(2, r)
		log.Error("recovered: %s\n%s", err, debug.Stack())
	}
}

// RecoverPanicError converts a recovered panic into an error written to errp. Call it deferred.
func RecoverPanicError(log logger.Logger, errp *error) {
	if r := recover(); r != nil {
		err := panicError(2, r)
		log.Error("recovered: %s", err)
		if errp != nil {
			*errp = err
		}
	}
}

// Exit prints the message to stderr and exits with code 1.
func Exit(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
