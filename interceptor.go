package cmdrdata

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/status"
)

// Outcome tags how a tracked call ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Error kinds reported in usage events for failed calls.
const (
	// ErrorKindTransport marks errors carrying a transport status code
	// (HTTP or gRPC).
	ErrorKindTransport = "transport_error"
	// ErrorKindSDK marks all other errors raised by the wrapped client.
	ErrorKindSDK = "sdk_error"
)

// ErrorInfo classifies an upstream call error for usage reporting.
type ErrorInfo struct {
	Kind    string
	Code    string
	Message string
}

// CallContext captures one tracked invocation: correlation id, method path,
// forwarded arguments, per-call overrides, timing, and outcome. Extraction
// functions receive it read-only.
type CallContext struct {
	RequestID  string
	MethodPath string
	Args       []any

	Customer CustomerID
	Metadata map[string]any

	Start   time.Time
	End     time.Time
	Outcome Outcome
	// Error is set only when Outcome is OutcomeFailure.
	Error *ErrorInfo
}

// Elapsed returns the wall-clock duration of the call.
func (c *CallContext) Elapsed() time.Duration {
	return c.End.Sub(c.Start)
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// observeCall is the interception core shared by the reflection proxy and
// the typed client: it times invoke, classifies the outcome, runs the
// extraction function under a panic guard when tracking is enabled, and
// returns invoke's result and error unchanged.
func observeCall(ctx context.Context, sink UsageSink, logger *Logger, path string, args []any, extract Extractor, invoke func() (any, error)) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = defaultLogger
	}

	call := &CallContext{
		RequestID:  uuid.NewString(),
		MethodPath: path,
		Args:       args,
		Customer:   CustomerFromContext(ctx),
		Metadata:   UsageMetadataFromContext(ctx),
		Start:      time.Now(),
	}

	result, err := invoke()
	call.End = time.Now()
	trackedCallDuration.Observe(call.Elapsed().Seconds())

	if err != nil {
		call.Outcome = OutcomeFailure
		call.Error = classifyError(err)
	} else {
		call.Outcome = OutcomeSuccess
	}

	if extract != nil && sink != nil && TrackingEnabled(ctx) {
		tracked := result
		if err != nil {
			tracked = nil
		}
		runExtractor(extract, tracked, call, sink, logger)
	}

	annotateSpan(ctx, call)
	return result, err
}

// runExtractor shields the caller from the telemetry path: a panicking
// extraction function is logged and counted, never propagated.
func runExtractor(extract Extractor, result any, call *CallContext, sink UsageSink, logger *Logger) {
	defer func() {
		if r := recover(); r != nil {
			extractorFailures.Inc()
			logger.Warn("usage extraction failed for %s: %v", call.MethodPath, r)
		}
	}()
	extract(result, call, sink)
}

// makeTrackedFunc wraps a method value in a function of the exact same type
// that routes the invocation through observeCall. Preserving the method's
// own reflect.Type keeps the wrapper assignable wherever the original is.
func makeTrackedFunc(method reflect.Value, path string, extract Extractor, sink UsageSink, logger *Logger) any {
	mt := method.Type()
	wrapper := reflect.MakeFunc(mt, func(in []reflect.Value) []reflect.Value {
		var out []reflect.Value
		invoke := func() (any, error) {
			if mt.IsVariadic() {
				out = method.CallSlice(in)
			} else {
				out = method.Call(in)
			}
			return leadingResult(out), trailingError(out)
		}
		observeCall(contextArg(in), sink, logger, path, argValues(in), extract, invoke)
		return out
	})
	return wrapper.Interface()
}

// contextArg returns the call's context argument, by convention the first
// parameter, or context.Background when the method takes none.
func contextArg(in []reflect.Value) context.Context {
	if len(in) > 0 && in[0].Type().Implements(contextType) {
		if ctx, ok := in[0].Interface().(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

func argValues(in []reflect.Value) []any {
	args := make([]any, 0, len(in))
	for _, v := range in {
		args = append(args, v.Interface())
	}
	return args
}

// leadingResult treats the first return value as the call's result, the
// (T, error) convention. Methods returning only an error have no result.
func leadingResult(out []reflect.Value) any {
	if len(out) == 0 || out[0].Type() == errorType {
		return nil
	}
	return out[0].Interface()
}

func trailingError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if !last.Type().Implements(errorType) {
		return nil
	}
	switch last.Kind() {
	case reflect.Interface, reflect.Pointer:
		if last.IsNil() {
			return nil
		}
	}
	err, _ := last.Interface().(error)
	return err
}

// classifyError maps an upstream call error to a usage-event classification.
// Errors exposing a transport status code (HTTP via googleapi, gRPC via a
// GRPCStatus method, or a duck-typed Code member) are transport errors;
// everything else is an SDK error.
func classifyError(err error) *ErrorInfo {
	info := &ErrorInfo{Kind: ErrorKindSDK, Message: err.Error()}

	var gapi *googleapi.Error
	if errors.As(err, &gapi) {
		info.Kind = ErrorKindTransport
		info.Code = strconv.Itoa(gapi.Code)
		return info
	}

	var grpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &grpcErr) {
		info.Kind = ErrorKindTransport
		info.Code = grpcErr.GRPCStatus().Code().String()
		return info
	}

	if code, ok := errorStatusCode(err); ok {
		info.Kind = ErrorKindTransport
		info.Code = code
	}
	return info
}

// errorStatusCode duck-types a status code out of vendor error types that
// expose a Code method or field without a shared interface.
func errorStatusCode(err error) (string, bool) {
	v := reflect.ValueOf(err)
	if !v.IsValid() {
		return "", false
	}
	if m := v.MethodByName("Code"); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() == 1 {
		return formatStatusCode(m.Call(nil)[0])
	}
	v = reflect.Indirect(v)
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName("Code"); f.IsValid() && f.CanInterface() {
			return formatStatusCode(f)
		}
	}
	return "", false
}

func formatStatusCode(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.String:
		s := v.String()
		return s, s != ""
	}
	return "", false
}

// annotateSpan records the correlation id and outcome on the caller's active
// span, if any. The middleware never starts spans of its own.
func annotateSpan(ctx context.Context, call *CallContext) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("cmdrdata.request_id", call.RequestID),
		attribute.String("cmdrdata.method", call.MethodPath),
		attribute.String("cmdrdata.outcome", string(call.Outcome)),
	)
}
