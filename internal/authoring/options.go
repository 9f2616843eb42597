package authoring

import "time"

// Options carries the per-call tuning knobs recognized across the
// client, adapters, helpers, and the bulk driver. The zero value is
// valid everywhere; unset fields fall back to package defaults.
type Options struct {
	// Pagination.
	Offset int
	Limit  int

	// Retry policy overrides for the HTTP client.
	RetryMinTimeout  time.Duration
	RetryMaxTimeout  time.Duration
	RetryFactor      float64
	RetryRandomize   bool
	RetryStatusCodes []int
	MaxAttempts      int

	// Write semantics.
	CreateOnly    bool // 409 Conflict is treated as success
	ForceOverride bool // PUT with forceOverride=true despite rev mismatch
	PublishNow    bool // sets x-ibm-dx-publish-priority: now

	// Asset selection: restrict push/pull to these file extensions
	// (without dot). Empty means all.
	AssetTypes []string

	// Suppress the per-run error log file.
	NoErrorLog bool

	// Only list artifacts modified since this instant. Zero means no
	// filter.
	Since time.Time

	// FilterRetryPush decides whether an exhausted push error should be
	// re-queued for a later pass by the bulk driver.
	FilterRetryPush func(err error) bool

	// Per-call tenant base URL override (x-ibm-dx-tenant-base-url).
	TenantBaseURL string

	// Locale for Accept-Language. Defaults to "en".
	Locale string
}

// pageLimit returns the effective page size for list calls.
func (o *Options) pageLimit() int {
	if o == nil || o.Limit <= 0 {
		return defaultPageLimit
	}

	return o.Limit
}

// locale returns the effective Accept-Language value.
func (o *Options) locale() string {
	if o == nil || o.Locale == "" {
		return "en"
	}

	return o.Locale
}
