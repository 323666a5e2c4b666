package types

import (
	"time"
)

// RouteConfig maps a path pattern to a target service.
// Built once at startup; immutable afterwards. Patterns support `*`
// wildcards and are evaluated in declared order, first full match wins.
type RouteConfig struct {
	PathPattern   string           `json:"path_pattern" yaml:"path_pattern" mapstructure:"path_pattern"`
	TargetService string           `json:"target_service" yaml:"target_service" mapstructure:"target_service"`
	PathRewrite   []RewriteRule    `json:"path_rewrite,omitempty" yaml:"path_rewrite,omitempty" mapstructure:"path_rewrite"`
	AuthRequired  bool             `json:"auth_required" yaml:"auth_required" mapstructure:"auth_required"`
	RateLimit     *RateLimitPolicy `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RewriteRule is one ordered pattern -> replacement substitution applied to
// the request path. Later rules see the output of earlier rules.
type RewriteRule struct {
	Pattern     string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement" mapstructure:"replacement"`
}

// RateLimitPolicy bounds requests per identity within a fixed window
type RateLimitPolicy struct {
	Limit         int `json:"limit" yaml:"limit" mapstructure:"limit"`
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds" mapstructure:"window_seconds"`
}

// Window returns the policy window as a duration
func (p *RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// RateLimitResult is the outcome of one rate-limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    int64 // epoch seconds when the window expires
	RetryAfter time.Duration
}
