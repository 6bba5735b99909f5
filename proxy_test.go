package cmdrdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"pgregory.net/rapid"
)

type fakeUsage struct {
	PromptTokenCount     int32
	CandidatesTokenCount int32
	TotalTokenCount      int32
}

type fakeCandidate struct {
	FinishReason string
}

type fakeResponse struct {
	ResponseID    string
	ModelVersion  string
	UsageMetadata *fakeUsage
	Candidates    []*fakeCandidate
}

type fakeCountResponse struct {
	TotalTokens int32
}

type fakeModels struct {
	resp      *fakeResponse
	countResp *fakeCountResponse
	err       error

	mu        sync.Mutex
	calls     int
	lastModel string
}

func (m *fakeModels) GenerateContent(ctx context.Context, model string, prompt string) (*fakeResponse, error) {
	m.mu.Lock()
	m.calls++
	m.lastModel = model
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *fakeModels) CountTokens(ctx context.Context, model string, prompt string) (*fakeCountResponse, error) {
	m.mu.Lock()
	m.calls++
	m.lastModel = model
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.countResp, nil
}

func (m *fakeModels) Concat(parts ...string) string {
	out := ""
	for _, p := range parts {
		out += p
	}
	return out
}

type fakeClient struct {
	Models *fakeModels
	Region string
}

func (c *fakeClient) Ping() string { return "pong" }

type recordingSink struct {
	mu     sync.Mutex
	events []*UsageEvent
}

func (s *recordingSink) RecordUsage(event *UsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Events() []*UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*UsageEvent(nil), s.events...)
}

func genResponse() *fakeResponse {
	return &fakeResponse{
		ResponseID:    "resp_123",
		ModelVersion:  "001",
		UsageMetadata: &fakeUsage{PromptTokenCount: 15, CandidatesTokenCount: 25, TotalTokenCount: 40},
		Candidates:    []*fakeCandidate{{FinishReason: "STOP"}},
	}
}

type generateFunc = func(context.Context, string, string) (*fakeResponse, error)

func TestProxyForwardsFieldsAndMethods(t *testing.T) {
	client := &fakeClient{Region: "us-central1", Models: &fakeModels{}}
	p := NewTrackedProxy(client, &recordingSink{}, nil)

	region, err := p.Get("Region")
	require.NoError(t, err)
	assert.Equal(t, "us-central1", region)

	handle, err := p.Get("Ping")
	require.NoError(t, err)
	ping, ok := handle.(func() string)
	require.True(t, ok)
	assert.Equal(t, "pong", ping())
}

func TestProxyMemoizesResolvedHandles(t *testing.T) {
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": TrackGenerateContent})

	h1, err := p.Get("Models")
	require.NoError(t, err)
	h2, err := p.Get("Models")
	require.NoError(t, err)
	require.Same(t, h1.(*TrackedProxy), h2.(*TrackedProxy))
}

func TestProxyLookupMissIsNotCached(t *testing.T) {
	target := map[string]any{"name": "static"}
	p := NewTrackedProxy(target, &recordingSink{}, nil)

	_, err := p.Get("later")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "later", lookupErr.Member)
	assert.Contains(t, lookupErr.Error(), "map[string]interface")

	// A member added to the dynamic target after a miss must be observed.
	target["later"] = 7
	got, err := p.Get("later")
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestProxyTrackedCallSuccess(t *testing.T) {
	var (
		calls  int
		gotRes any
		got    *CallContext
	)
	spy := func(result any, call *CallContext, sink UsageSink) {
		calls++
		gotRes = result
		got = call
	}

	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Resolve("Models.GenerateContent")
	require.NoError(t, err)
	fn, ok := handle.(generateFunc)
	require.True(t, ok, "tracked wrapper must preserve the method signature")

	resp, err := fn(context.Background(), "models/gemini-2.5-flash", "hi")
	require.NoError(t, err)
	require.Same(t, client.Models.resp, resp)

	require.Equal(t, 1, calls)
	require.Same(t, client.Models.resp, gotRes.(*fakeResponse))
	assert.Equal(t, "Models.GenerateContent", got.MethodPath)
	assert.Equal(t, OutcomeSuccess, got.Outcome)
	assert.False(t, got.End.Before(got.Start))
	_, err = uuid.Parse(got.RequestID)
	assert.NoError(t, err)
	// Arguments are forwarded to the target unchanged.
	assert.Equal(t, "models/gemini-2.5-flash", client.Models.lastModel)
}

func TestProxyTrackedCallReRaisesError(t *testing.T) {
	boom := errors.New("API call failed")
	var calls int
	var got *CallContext
	var gotRes any = "sentinel"
	spy := func(result any, call *CallContext, sink UsageSink) {
		calls++
		got = call
		gotRes = result
	}

	client := &fakeClient{Models: &fakeModels{err: boom}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Resolve("Models.GenerateContent")
	require.NoError(t, err)
	fn := handle.(generateFunc)

	resp, err := fn(context.Background(), "gemini-2.5-flash", "hi")
	assert.Nil(t, resp)
	require.ErrorIs(t, err, boom)

	require.Equal(t, 1, calls)
	assert.Nil(t, gotRes)
	assert.Equal(t, OutcomeFailure, got.Outcome)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrorKindSDK, got.Error.Kind)
	assert.Empty(t, got.Error.Code)
	assert.Equal(t, "API call failed", got.Error.Message)
}

func TestProxyClassifiesTransportErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"http", &googleapi.Error{Code: 429, Message: "rate limited"}, "429"},
		{"grpc", status.Error(codes.NotFound, "model not found"), "NotFound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *CallContext
			spy := func(result any, call *CallContext, sink UsageSink) { got = call }
			client := &fakeClient{Models: &fakeModels{err: tc.err}}
			p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

			handle, err := p.Resolve("Models.GenerateContent")
			require.NoError(t, err)
			_, err = handle.(generateFunc)(context.Background(), "m", "hi")
			require.ErrorIs(t, err, tc.err)

			require.NotNil(t, got)
			require.NotNil(t, got.Error)
			assert.Equal(t, ErrorKindTransport, got.Error.Kind)
			assert.Equal(t, tc.code, got.Error.Code)
		})
	}
}

func TestProxyTrackingDisabled(t *testing.T) {
	var calls int
	spy := func(result any, call *CallContext, sink UsageSink) { calls++ }
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Resolve("Models.GenerateContent")
	require.NoError(t, err)
	resp, err := handle.(generateFunc)(WithoutTracking(context.Background()), "m", "hi")
	require.NoError(t, err)
	require.Same(t, client.Models.resp, resp)
	assert.Zero(t, calls)
}

func TestProxyCustomerOverrideReachesExtractor(t *testing.T) {
	var got *CallContext
	spy := func(result any, call *CallContext, sink UsageSink) { got = call }
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Resolve("Models.GenerateContent")
	require.NoError(t, err)
	ctx := WithCustomer(context.Background(), "customer-123")
	ctx = WithUsageMetadata(ctx, map[string]any{"team": "search"})
	_, err = handle.(generateFunc)(ctx, "m", "hi")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, Customer("customer-123"), got.Customer)
	assert.Equal(t, map[string]any{"team": "search"}, got.Metadata)
}

func TestProxyExtractorPanicDoesNotPropagate(t *testing.T) {
	spy := func(result any, call *CallContext, sink UsageSink) { panic("tracking failed") }
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Resolve("Models.GenerateContent")
	require.NoError(t, err)
	resp, err := handle.(generateFunc)(context.Background(), "m", "hi")
	require.NoError(t, err)
	require.Same(t, client.Models.resp, resp)
}

func TestProxyNestedTableScoping(t *testing.T) {
	var calls int
	spy := func(result any, call *CallContext, sink UsageSink) { calls++ }
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": spy})

	handle, err := p.Get("Models")
	require.NoError(t, err)
	child, ok := handle.(*TrackedProxy)
	require.True(t, ok, "sub-object with tracked descendants must become a child proxy")
	assert.Contains(t, child.direct, "GenerateContent")

	genHandle, err := child.Get("GenerateContent")
	require.NoError(t, err)
	_, err = genHandle.(generateFunc)(context.Background(), "m", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Untracked siblings on the same level pass through.
	countHandle, err := child.Get("CountTokens")
	require.NoError(t, err)
	_, ok = countHandle.(func(context.Context, string, string) (*fakeCountResponse, error))
	require.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestProxyVariadicTrackedMethod(t *testing.T) {
	var calls int
	spy := func(result any, call *CallContext, sink UsageSink) { calls++ }
	client := &fakeClient{Models: &fakeModels{}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.Concat": spy})

	handle, err := p.Resolve("Models.Concat")
	require.NoError(t, err)
	concat, ok := handle.(func(...string) string)
	require.True(t, ok)
	assert.Equal(t, "abc", concat("a", "b", "c"))
	assert.Equal(t, 1, calls)
}

func TestProxyMembersAndString(t *testing.T) {
	client := &fakeClient{Models: &fakeModels{}}
	p := NewTrackedProxy(client, &recordingSink{}, nil)

	members := p.Members()
	for _, want := range []string{"Models", "Region", "Ping", "Get", "Resolve", "Set", "Members", "String", "Target"} {
		assert.Contains(t, members, want)
	}
	assert.Contains(t, fmt.Sprint(p), "TrackedProxy")
	assert.Contains(t, fmt.Sprint(p), "fakeClient")
	assert.Same(t, client, p.Target())
}

func TestProxySetForwardsToTarget(t *testing.T) {
	client := &fakeClient{Region: "us"}
	p := NewTrackedProxy(client, &recordingSink{}, nil)

	require.NoError(t, p.Set("Region", "eu"))
	assert.Equal(t, "eu", client.Region)

	var lookupErr *LookupError
	require.ErrorAs(t, p.Set("Nope", "x"), &lookupErr)

	var valErr *CmdrDataError
	require.ErrorAs(t, p.Set("Region", 42), &valErr)
	assert.Equal(t, ErrorTypeValidation, valErr.Type)
}

func TestProxyConcurrentResolutionSingleWinner(t *testing.T) {
	client := &fakeClient{Models: &fakeModels{resp: genResponse()}}
	p := NewTrackedProxy(client, &recordingSink{}, TrackMethods{"Models.GenerateContent": TrackGenerateContent})

	const n = 16
	handles := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := p.Get("Models")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	first := handles[0].(*TrackedProxy)
	for _, h := range handles[1:] {
		require.Same(t, first, h.(*TrackedProxy))
	}
}

func TestProxyResolutionIsIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := map[string]any{}
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Z][a-z]{1,8}`), 1, 8, rapid.ID[string]).Draw(t, "names")
		for i, name := range names {
			target[name] = i
		}
		p := NewTrackedProxy(target, &recordingSink{}, nil)

		accesses := rapid.SliceOfN(rapid.SampledFrom(names), 1, 32).Draw(t, "accesses")
		for _, name := range accesses {
			first, err := p.Get(name)
			require.NoError(t, err)
			second, err := p.Get(name)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Equal(t, target[name], first)
		}
	})
}
