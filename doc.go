// Package cmdrdata provides transparent usage tracking for the Google Gen AI
// SDK.
//
// It wraps a genai client so that every call is forwarded unchanged while a
// configured subset of methods (content generation, token counting) also
// emits a usage event to the CmdrData API in the background. Callers keep
// using the SDK exactly as before; the wrapped call's result and errors are
// never altered by the tracking path.
//
// Two integration points are provided:
//
//   - Client is a typed wrapper around *genai.Client whose Models surface
//     meters GenerateContent and CountTokens.
//   - TrackedProxy is a reflection-based forwarder for arbitrary targets,
//     driven by a table of dotted method paths.
//
// Usage:
//
//	tracker, err := cmdrdata.NewTracker(
//	    cmdrdata.WithAPIKey(os.Getenv("CMDRDATA_API_KEY")),
//	    cmdrdata.WithEnvironment("production"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer tracker.Flush()
//
//	client, err := cmdrdata.NewClient(ctx, tracker, &genai.ClientConfig{
//	    APIKey: os.Getenv("GEMINI_API_KEY"),
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	ctx = cmdrdata.WithCustomer(ctx, "customer-123")
//	resp, err := client.Models.GenerateContent(ctx, "gemini-2.5-flash", genai.Text("hi"), nil)
//
// Per-call behavior is controlled through the context: WithCustomer attributes
// the call to a customer, WithoutTracking suppresses the usage event, and
// WithUsageMetadata attaches free-form metadata to it.
package cmdrdata
