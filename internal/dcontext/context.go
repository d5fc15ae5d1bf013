package dcontext

import (
	"context"
	"runtime"
	"time"

	"github.com/packagepatch/patchmaker/internal/uuid"
)

// Background returns a non-nil, empty context, exactly like context.Background,
// but is the canonical entry point for this package's values so call sites
// read as "a patchmaker context" rather than a bare stdlib one.
func Background() context.Context {
	return context.Background()
}

// WithValue adds a single value to the context, as context.WithValue.
func WithValue(ctx context.Context, key, val interface{}) context.Context {
	return context.WithValue(ctx, key, val)
}

// WithValues returns a context that has the given key-value pairs set as
// context values, for use as logging fields (see configureLogging's use of
// config.Log.Fields).
func WithValues(ctx context.Context, values map[string]interface{}) context.Context {
	for k, v := range values {
		ctx = WithValue(ctx, k, v)
	}
	return ctx
}

// GetStringValue returns the value of key from ctx as a string, or the empty
// string if the key is unset or not a string.
func GetStringValue(ctx context.Context, key interface{}) string {
	v := ctx.Value(key)
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

type versionKey struct{}

func (versionKey) String() string { return "version" }

// WithVersion stores the running binary's version in the context, for
// inclusion in log fields.
func WithVersion(ctx context.Context, version string) context.Context {
	ctx = WithValue(ctx, versionKey{}, version)
	// Also expose "version" as a plain string key for GetLogger(ctx, "version").
	return WithValue(ctx, "version", version)
}

// GetVersion returns the version previously stored with WithVersion, or "".
func GetVersion(ctx context.Context) string {
	return GetStringValue(ctx, versionKey{})
}

// DoneFunc is returned by WithTrace and logs the trace's duration and an
// optional closing message when called.
type DoneFunc func(format string, args ...interface{})

// WithTrace extends ctx with trace identity (a new id, or a child of the
// parent trace's id) and the caller's file/line/function, returning a done
// function that logs the elapsed time when called. Mirrors the teacher's
// per-request trace context, generalized to any traced operation
// (buildPatch, materialize, ...).
func WithTrace(ctx context.Context) (context.Context, DoneFunc) {
	callerPC, file, line, _ := runtime.Caller(1)
	f := runtime.FuncForPC(callerPC)

	parentID := GetStringValue(ctx, "trace.id")
	id := uuid.NewString()

	ctx = WithValue(ctx, "trace.id", id)
	ctx = WithValue(ctx, "trace.file", file)
	ctx = WithValue(ctx, "trace.line", line)
	ctx = WithValue(ctx, "trace.func", f.Name())
	ctx = WithValue(ctx, "trace.start", time.Now())
	if parentID != "" {
		ctx = WithValue(ctx, "trace.parent.id", parentID)
	}

	start := time.Now()
	return ctx, func(format string, args ...interface{}) {
		elapsed := time.Since(start)
		GetLogger(ctx, "trace.id", "trace.func").
			Debugf("%s (%v) "+format, append([]interface{}{f.Name(), elapsed}, args...)...)
	}
}
