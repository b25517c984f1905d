package platform

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"
)

const defaultTimeout = 30 * time.Second

type catalogFile struct {
	Platforms []PlatformConfig `yaml:"platforms"`
}

// PlatformConfig is one platform entry of the catalog file. Empty fields
// keep the built-in default.
type PlatformConfig struct {
	Kind              string            `yaml:"kind"`
	Enabled           *bool             `yaml:"enabled"`
	AuthURL           string            `yaml:"auth_url"`
	TokenURL          string            `yaml:"token_url"`
	APIBaseURL        string            `yaml:"api_base_url"`
	AdminBaseURL      string            `yaml:"admin_base_url"`
	APIVersion        string            `yaml:"api_version"`
	Scopes            []string          `yaml:"scopes"`
	RatePerSecond     float64           `yaml:"rate_per_second"`
	Burst             int               `yaml:"burst"`
	Timeout           string            `yaml:"timeout"`
	StaticHeaders     map[string]string `yaml:"static_headers"`
	ConversionActions []string          `yaml:"conversion_actions"`
}

// Info is the resolved runtime description of a platform.
type Info struct {
	Kind              Kind
	Enabled           bool
	AuthURL           string
	TokenURL          string
	APIBaseURL        string
	AdminBaseURL      string
	APIVersion        string
	Scopes            []string
	RatePerSecond     float64
	Burst             int
	Timeout           time.Duration
	StaticHeaders     map[string]string
	ConversionActions []string

	ClientID     string
	ClientSecret string
}

// Catalog holds the resolved platform descriptions.
type Catalog struct {
	platforms map[Kind]Info
}

// LoadCatalog reads path, if set, over the built-in defaults and applies
// TAMARINDO_<KIND>_BASE_URL and TAMARINDO_<KIND>_TIMEOUT overrides.
func LoadCatalog(path string) (*Catalog, error) {
	overrides := map[Kind]PlatformConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read platform catalog %q: %w", path, err)
		}
		var f catalogFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse platform catalog %q: %w", path, err)
		}
		for _, p := range f.Platforms {
			kind, err := ParseKind(p.Kind)
			if err != nil {
				return nil, fmt.Errorf("platform catalog %q: %w", path, err)
			}
			overrides[kind] = p
		}
	}

	c := &Catalog{platforms: make(map[Kind]Info, len(Kinds))}
	for _, def := range defaultPlatforms() {
		kind := Kind(def.Kind)
		if o, ok := overrides[kind]; ok {
			def = merge(def, o)
		}
		c.platforms[kind] = resolve(kind, def)
	}
	return c, nil
}

// Get returns the description of kind.
func (c *Catalog) Get(kind Kind) (Info, bool) {
	info, ok := c.platforms[kind]
	if !ok {
		return Info{}, false
	}
	info.Scopes = append([]string(nil), info.Scopes...)
	info.ConversionActions = append([]string(nil), info.ConversionActions...)
	if len(info.StaticHeaders) > 0 {
		cp := make(map[string]string, len(info.StaticHeaders))
		for k, v := range info.StaticHeaders {
			cp[k] = v
		}
		info.StaticHeaders = cp
	}
	return info, true
}

// WithCredentials returns a copy of info carrying the OAuth client.
func (info Info) WithCredentials(clientID, clientSecret string) Info {
	info.ClientID = clientID
	info.ClientSecret = clientSecret
	return info
}

func merge(base, o PlatformConfig) PlatformConfig {
	if o.Enabled != nil {
		base.Enabled = o.Enabled
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&base.AuthURL, o.AuthURL)
	set(&base.TokenURL, o.TokenURL)
	set(&base.APIBaseURL, o.APIBaseURL)
	set(&base.AdminBaseURL, o.AdminBaseURL)
	set(&base.APIVersion, o.APIVersion)
	set(&base.Timeout, o.Timeout)
	if len(o.Scopes) > 0 {
		base.Scopes = o.Scopes
	}
	if o.RatePerSecond > 0 {
		base.RatePerSecond = o.RatePerSecond
	}
	if o.Burst > 0 {
		base.Burst = o.Burst
	}
	if len(o.ConversionActions) > 0 {
		base.ConversionActions = o.ConversionActions
	}
	for k, v := range o.StaticHeaders {
		if base.StaticHeaders == nil {
			base.StaticHeaders = map[string]string{}
		}
		base.StaticHeaders[k] = v
	}
	return base
}

func resolve(kind Kind, cfg PlatformConfig) Info {
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	baseURL := cfg.APIBaseURL
	if v := strings.TrimSpace(os.Getenv(platformEnvName(kind, "BASE_URL"))); v != "" {
		baseURL = v
	}

	timeout := defaultTimeout
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.Timeout)); err == nil && d > 0 {
		timeout = d
	}
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(platformEnvName(kind, "TIMEOUT")))); err == nil && d > 0 {
		timeout = d
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return Info{
		Kind:              kind,
		Enabled:           enabled,
		AuthURL:           cfg.AuthURL,
		TokenURL:          cfg.TokenURL,
		APIBaseURL:        strings.TrimRight(baseURL, "/"),
		AdminBaseURL:      strings.TrimRight(cfg.AdminBaseURL, "/"),
		APIVersion:        cfg.APIVersion,
		Scopes:            cfg.Scopes,
		RatePerSecond:     rps,
		Burst:             burst,
		Timeout:           timeout,
		StaticHeaders:     cfg.StaticHeaders,
		ConversionActions: cfg.ConversionActions,
	}
}

func platformEnvName(kind Kind, suffix string) string {
	return fmt.Sprintf("TAMARINDO_%s_%s", strings.ToUpper(string(kind)), suffix)
}

func defaultPlatforms() []PlatformConfig {
	return []PlatformConfig{
		{
			Kind:          string(GoogleAds),
			AuthURL:       google.Endpoint.AuthURL,
			TokenURL:      google.Endpoint.TokenURL,
			APIBaseURL:    "https://googleads.googleapis.com",
			APIVersion:    "v17",
			Scopes:        []string{"https://www.googleapis.com/auth/adwords"},
			RatePerSecond: 5,
			Burst:         10,
			Timeout:       "30s",
		},
		{
			Kind:              string(MetaAds),
			AuthURL:           facebook.Endpoint.AuthURL,
			TokenURL:          facebook.Endpoint.TokenURL,
			APIBaseURL:        "https://graph.facebook.com",
			APIVersion:        "v19.0",
			Scopes:            []string{"ads_read", "read_insights", "business_management"},
			RatePerSecond:     3,
			Burst:             5,
			Timeout:           "30s",
			ConversionActions: []string{"purchase", "lead", "complete_registration"},
		},
		{
			Kind:          string(GA4),
			AuthURL:       google.Endpoint.AuthURL,
			TokenURL:      google.Endpoint.TokenURL,
			APIBaseURL:    "https://analyticsdata.googleapis.com",
			AdminBaseURL:  "https://analyticsadmin.googleapis.com",
			APIVersion:    "v1beta",
			Scopes:        []string{"https://www.googleapis.com/auth/analytics.readonly"},
			RatePerSecond: 5,
			Burst:         10,
			Timeout:       "30s",
		},
	}
}
