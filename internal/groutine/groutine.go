// Package groutine runs named goroutines. The name is attached as a pprof
// label and to the context, so stack dumps and logs can tell radio callbacks
// apart from caller work.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// PanicLogger receives panics raised by goroutines started with Go before they
// are re-raised. Tests may swap it.
var PanicLogger = logrus.StandardLogger()

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "goble-read", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used. A panic inside fn is
// logged with the goroutine name and then re-raised.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		defer func() {
			if r := recover(); r != nil {
				PanicLogger.WithFields(logrus.Fields{
					"goroutine": name,
					"gid":       GetGID(),
					"panic":     r,
					"stack":     string(debug.Stack()),
				}).Error("Goroutine panicked")
				panic(r)
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric goroutine ID (hacky, for debugging).
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
