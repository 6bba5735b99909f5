package cmdrdata

import (
	"reflect"
	"strings"
)

// Extractor converts one tracked call's raw outcome into a usage event and
// hands it to the sink. result is nil when the call failed; the failure is
// described by call.Error. Extractors run at most once per invocation and
// never when tracking is disabled for the call.
type Extractor func(result any, call *CallContext, sink UsageSink)

// GeminiTrackMethods is the tracking table for the Google Gen AI client
// surface.
var GeminiTrackMethods = TrackMethods{
	"Models.GenerateContent": TrackGenerateContent,
	"Models.CountTokens":     TrackCountTokens,
}

const providerGoogle = "google"

// TrackGenerateContent emits a usage event for a content-generation call.
// Token quantities and response metadata are read defensively from the
// result; a successful result without a usage-metadata container emits
// nothing at all.
func TrackGenerateContent(result any, call *CallContext, sink UsageSink) {
	customer := EffectiveCustomerID(call.Customer)
	if customer == "" {
		defaultLogger.Warn("no customer id resolvable for %s, skipping usage event", call.MethodPath)
		return
	}

	event := newUsageEvent(call, customer)
	if call.Outcome == OutcomeFailure {
		// Failed calls are still billed as zero-quantity events carrying
		// the error classification.
		event.Metadata = mergeMetadata(nil, call.Metadata)
		sink.RecordUsage(event)
		return
	}

	usage, ok := memberValue(result, "UsageMetadata")
	if !ok || !structured(usage) {
		defaultLogger.Debug("result for %s carries no usage metadata, skipping usage event", call.MethodPath)
		return
	}

	event.InputTokens = intMember(usage, "PromptTokenCount")
	event.OutputTokens = intMember(usage, "CandidatesTokenCount")
	event.TotalTokens = intMember(usage, "TotalTokenCount")
	if event.TotalTokens == 0 {
		event.TotalTokens = event.InputTokens + event.OutputTokens
	}

	meta := make(map[string]any)
	if id := stringMember(result, "ResponseID"); id != "" {
		meta["response_id"] = id
	}
	if mv := stringMember(result, "ModelVersion"); mv != "" {
		meta["model_version"] = mv
	}
	if fr := finishReason(result); fr != "" {
		meta["finish_reason"] = fr
	}
	if event.TotalTokens > 0 {
		meta["total_token_count"] = event.TotalTokens
	}
	event.Metadata = mergeMetadata(meta, call.Metadata)

	sink.RecordUsage(event)
}

// TrackCountTokens emits a usage event for a token-counting call. The
// counted total is billed as input quantity; a result without the total
// still emits a zero-quantity event.
func TrackCountTokens(result any, call *CallContext, sink UsageSink) {
	customer := EffectiveCustomerID(call.Customer)
	if customer == "" {
		defaultLogger.Warn("no customer id resolvable for %s, skipping usage event", call.MethodPath)
		return
	}

	event := newUsageEvent(call, customer)
	meta := map[string]any{"operation": "count_tokens"}
	if call.Outcome == OutcomeSuccess {
		total := intMember(result, "TotalTokens")
		event.InputTokens = total
		event.TotalTokens = total
		if total > 0 {
			meta["total_tokens"] = total
		}
	}
	event.Metadata = mergeMetadata(meta, call.Metadata)

	sink.RecordUsage(event)
}

func newUsageEvent(call *CallContext, customer string) *UsageEvent {
	event := &UsageEvent{
		CustomerID:      customer,
		Model:           normalizeModel(modelFromArgs(call.Args)),
		Provider:        providerGoogle,
		RequestID:       call.RequestID,
		RequestTime:     call.Start.UTC().Format(iso8601),
		ResponseTime:    call.End.UTC().Format(iso8601),
		RequestDuration: call.Elapsed().Milliseconds(),
	}
	if call.Outcome == OutcomeFailure && call.Error != nil {
		event.ErrorOccurred = true
		event.ErrorKind = call.Error.Kind
		event.ErrorCode = call.Error.Code
		event.ErrorMessage = call.Error.Message
	}
	return event
}

// modelFromArgs finds the model identifier among the forwarded arguments:
// the first non-empty string argument, or a request struct's Model field.
func modelFromArgs(args []any) string {
	for _, arg := range args {
		if s, ok := arg.(string); ok && s != "" {
			return s
		}
	}
	for _, arg := range args {
		if m := stringMember(arg, "Model"); m != "" {
			return m
		}
	}
	return "unknown"
}

// normalizeModel strips the resource-style "models/" prefix some callers use.
func normalizeModel(model string) string {
	return strings.TrimPrefix(model, "models/")
}

// mergeMetadata layers the caller-supplied override on top of the extracted
// metadata; the override wins on key collision.
func mergeMetadata(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// memberValue reads an exported field or nullary method off an arbitrary
// result value.
func memberValue(v any, name string) (any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if m := rv.MethodByName(name); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() >= 1 {
		return m.Call(nil)[0].Interface(), true
	}
	rv = reflect.Indirect(rv)
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f := rv.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}

// structured reports whether a value is a non-nil struct or map.
func structured(v any) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return false
	}
	rv = reflect.Indirect(rv)
	if !rv.IsValid() {
		return false
	}
	return rv.Kind() == reflect.Struct || rv.Kind() == reflect.Map
}

// intMember reads a numeric member, tolerating any integer width the SDK
// uses. Absent or non-numeric members read as zero.
func intMember(v any, name string) int {
	m, ok := memberValue(v, name)
	if !ok {
		return 0
	}
	rv := reflect.Indirect(reflect.ValueOf(m))
	if !rv.IsValid() {
		return 0
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return int(rv.Float())
	}
	return 0
}

// stringMember reads a string-kinded member (including named string types
// such as finish reasons). Absent members read as empty.
func stringMember(v any, name string) string {
	m, ok := memberValue(v, name)
	if !ok {
		return ""
	}
	rv := reflect.Indirect(reflect.ValueOf(m))
	if rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String()
	}
	return ""
}

func finishReason(result any) string {
	cands, ok := memberValue(result, "Candidates")
	if !ok {
		return ""
	}
	rv := reflect.ValueOf(cands)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return ""
	}
	return stringMember(rv.Index(0).Interface(), "FinishReason")
}
