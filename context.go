package cmdrdata

import (
	"context"
	"os"
	"sync/atomic"
)

// CustomerID is a three-state customer attribution override. The zero value
// means "unset": the ambient default customer is consulted instead. An
// explicit value attributes the call to that customer. AnonymousCustomer is
// explicit absence: the call is not attributed and the ambient default is
// not consulted.
type CustomerID struct {
	id  string
	set bool
}

// Customer returns an explicit customer override.
func Customer(id string) CustomerID {
	return CustomerID{id: id, set: true}
}

// AnonymousCustomer returns an explicit "no customer" override, suppressing
// the ambient default.
func AnonymousCustomer() CustomerID {
	return CustomerID{set: true}
}

// IsSet reports whether the override was explicitly provided, including the
// anonymous case.
func (c CustomerID) IsSet() bool { return c.set }

// Value returns the overridden customer id. Empty for unset and anonymous.
func (c CustomerID) Value() string { return c.id }

type (
	customerKey struct{}
	trackingKey struct{}
	metadataKey struct{}
)

// WithCustomer attributes calls made with the returned context to the given
// customer, taking precedence over the ambient default.
func WithCustomer(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, customerKey{}, Customer(id))
}

// WithoutCustomer marks calls made with the returned context as explicitly
// unattributed. Unlike leaving the customer unset, the ambient default is
// not consulted, so no usage events are emitted for tracked calls.
func WithoutCustomer(ctx context.Context) context.Context {
	return context.WithValue(ctx, customerKey{}, AnonymousCustomer())
}

// CustomerFromContext returns the customer override carried by ctx, or the
// unset zero value.
func CustomerFromContext(ctx context.Context) CustomerID {
	c, _ := ctx.Value(customerKey{}).(CustomerID)
	return c
}

// WithoutTracking disables usage-event emission for tracked calls made with
// the returned context. The calls themselves are still forwarded unchanged.
func WithoutTracking(ctx context.Context) context.Context {
	return context.WithValue(ctx, trackingKey{}, false)
}

// TrackingEnabled reports whether tracked calls made with ctx emit usage
// events. Tracking is enabled by default.
func TrackingEnabled(ctx context.Context) bool {
	enabled, ok := ctx.Value(trackingKey{}).(bool)
	if !ok {
		return true
	}
	return enabled
}

// WithUsageMetadata attaches free-form metadata to usage events emitted for
// tracked calls made with the returned context. On key collision the
// caller's metadata wins over extracted fields. The map is copied.
func WithUsageMetadata(ctx context.Context, md map[string]any) context.Context {
	if md == nil {
		return ctx
	}
	mdCopy := make(map[string]any, len(md))
	for k, v := range md {
		mdCopy[k] = v
	}
	return context.WithValue(ctx, metadataKey{}, mdCopy)
}

// UsageMetadataFromContext returns the metadata override carried by ctx, or
// nil.
func UsageMetadataFromContext(ctx context.Context) map[string]any {
	md, _ := ctx.Value(metadataKey{}).(map[string]any)
	return md
}

// defaultCustomer holds the process-wide ambient customer id, seeded from
// CMDRDATA_CUSTOMER_ID.
var defaultCustomer atomic.Value

func init() {
	defaultCustomer.Store(os.Getenv("CMDRDATA_CUSTOMER_ID"))
}

// SetDefaultCustomer sets the ambient customer id used when a call carries
// no explicit override.
func SetDefaultCustomer(id string) {
	defaultCustomer.Store(id)
}

// DefaultCustomer returns the ambient customer id, or empty when none is set.
func DefaultCustomer() string {
	id, _ := defaultCustomer.Load().(string)
	return id
}

// EffectiveCustomerID resolves the customer a call should be attributed to:
// an explicit override wins (including explicit absence), otherwise the
// ambient default applies. Empty means "do not emit".
func EffectiveCustomerID(override CustomerID) string {
	if override.IsSet() {
		return override.Value()
	}
	return DefaultCustomer()
}
