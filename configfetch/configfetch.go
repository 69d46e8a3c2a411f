// Package configfetch implements the one-shot HTTP fetch of a configuration
// snapshot (§4.6): GET the flag config, optionally GET the bandit models,
// and classify the response into "ok", "sticky unauthorized", or a
// retriable/non-retriable transport error.
package configfetch

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/alextanhongpin/flagcore/config"
	"github.com/alextanhongpin/flagcore/ferrors"
)

const (
	flagConfigPath   = "/flag-config/v1/config"
	banditConfigPath = "/flag-config/v1/bandits"
)

// Options configures a Fetcher, following the same NewOptions/Valid/functional-option
// shape the teacher uses for its own network-facing components.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	SDKKey     string
	SDKName    string
	SDKVersion string
}

// NewOptions returns Options with a default HTTP client.
func NewOptions() *Options {
	return &Options{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Valid reports whether o is usable to construct a Fetcher.
func (o *Options) Valid() error {
	if o.BaseURL == "" {
		return fmt.Errorf("%w: base url is empty", ferrors.Get("flagcore.invalid_base_url"))
	}
	if _, err := url.ParseRequestURI(o.BaseURL); err != nil {
		return fmt.Errorf("%w: %s", ferrors.Get("flagcore.invalid_base_url"), err)
	}
	if o.SDKKey == "" {
		return fmt.Errorf("%w: sdk key is empty", ferrors.Get("flagcore.invalid_base_url"))
	}
	return nil
}

// Option mutates Options; passed variadically to New.
type Option func(*Options)

func WithHTTPClient(c *http.Client) Option { return func(o *Options) { o.HTTPClient = c } }
func WithSDKName(name string) Option       { return func(o *Options) { o.SDKName = name } }
func WithSDKVersion(v string) Option       { return func(o *Options) { o.SDKVersion = v } }

// Fetcher performs the one-shot config/bandit HTTP fetches. It latches
// sticky-unauthorized: once the server rejects the SDK key, every subsequent
// Fetch call short-circuits with the same error without issuing another
// request, matching §4.6's "Unauthorized is sticky" invariant.
type Fetcher struct {
	opts         *Options
	unauthorized atomic.Bool
}

// New constructs a Fetcher from a base URL, SDK key, and options.
func New(baseURL, sdkKey string, opts ...Option) (*Fetcher, error) {
	o := NewOptions()
	o.BaseURL = baseURL
	o.SDKKey = sdkKey
	for _, opt := range opts {
		opt(o)
	}
	o.SDKName = cmp.Or(o.SDKName, "flagcore-go")
	o.SDKVersion = cmp.Or(o.SDKVersion, "0.1.0")

	if err := o.Valid(); err != nil {
		return nil, err
	}
	return &Fetcher{opts: o}, nil
}

// Fetch retrieves the flag config and assembles a config.Snapshot. The
// bandit-models endpoint is only consulted when the flag config actually
// binds a flag variation to a bandit (§4.6, mirrors the original core's
// configuration_fetcher.rs gating the second request on a non-empty
// flag_to_bandit_associations table) — a bandit-less configuration never
// issues the second request. A non-nil error is either the sticky
// Unauthorized kind or a Retriable/NonRetriable transport error classified
// by HTTP status.
func (f *Fetcher) Fetch(ctx context.Context, now time.Time) (*config.Snapshot, error) {
	if f.unauthorized.Load() {
		return nil, ferrors.Get("flagcore.unauthorized")
	}

	flagBody, err := f.get(ctx, flagConfigPath)
	if err != nil {
		return nil, err
	}

	flags, meta, err := config.ParseFlags(flagBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.non_retriable_transport_error"), err)
	}

	associations, err := config.ParseBanditAssociations(flagBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.non_retriable_transport_error"), err)
	}

	snap := &config.Snapshot{
		Metadata:                 meta,
		Flags:                    flags,
		FlagToBanditAssociations: associations,
		FetchedAt:                now,
	}

	if len(associations) == 0 {
		return snap, nil
	}

	banditBody, err := f.get(ctx, banditConfigPath)
	switch {
	case err == nil:
		models, err := config.ParseBanditModels(banditBody)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.non_retriable_transport_error"), err)
		}
		snap.Bandits = models
	case isNotFound(err):
		// Associations reference bandits, but the bandit-models endpoint
		// hasn't caught up yet; the flag config is still usable.
	default:
		return nil, err
	}

	return snap, nil
}

func (f *Fetcher) get(ctx context.Context, path string) ([]byte, error) {
	u, err := url.Parse(f.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.invalid_base_url"), err)
	}
	u.Path = path
	q := u.Query()
	q.Set("apiKey", f.opts.SDKKey)
	q.Set("sdkName", f.opts.SDKName)
	q.Set("sdkVersion", f.opts.SDKVersion)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.non_retriable_transport_error"), err)
	}

	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.retriable_transport_error"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ferrors.Get("flagcore.retriable_transport_error"), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		f.unauthorized.Store(true)
		return nil, ferrors.Get("flagcore.unauthorized")
	case resp.StatusCode == http.StatusNotFound:
		return nil, &notFoundError{fmt.Errorf("%w: %s returned 404", ferrors.Get("flagcore.non_retriable_transport_error"), path)}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ferrors.Get("flagcore.retriable_transport_error"), resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ferrors.Get("flagcore.non_retriable_transport_error"), resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: unexpected redirect status %d", ferrors.Get("flagcore.non_retriable_transport_error"), resp.StatusCode)
	}

	return body, nil
}

// Unauthorized reports whether the fetcher has latched a sticky
// unauthorized response.
func (f *Fetcher) Unauthorized() bool { return f.unauthorized.Load() }

type notFoundError struct{ error }

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}
