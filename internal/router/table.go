// Package router implements path-based route matching for vexgate
package router

import (
	"fmt"
	"regexp"
	"strings"

	"vexgate/internal/types"
)

// Route is a single compiled entry of the route table
type Route struct {
	Config   types.RouteConfig
	pattern  *regexp.Regexp
	rewrites []rewriteRule
}

type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rewrite applies the route's rewrite rules to path in declared order.
// Each rule replaces every match in the path, and later rules operate
// on the output of earlier ones.
func (r *Route) Rewrite(path string) string {
	for _, rule := range r.rewrites {
		path = rule.pattern.ReplaceAllString(path, rule.replacement)
	}
	return path
}

// Table matches request paths against an ordered list of routes.
// It is built once at startup and read-only afterwards, so lookups
// need no locking.
type Table struct {
	routes []*Route
	logger types.Logger
}

// NewTable compiles the configured routes, preserving their declared order
func NewTable(configs []types.RouteConfig, logger types.Logger) (*Table, error) {
	routes := make([]*Route, 0, len(configs))
	for i, cfg := range configs {
		if cfg.PathPattern == "" {
			return nil, fmt.Errorf("route %d: path pattern must not be empty", i)
		}
		if cfg.TargetService == "" {
			return nil, fmt.Errorf("route %d (%s): target service must not be empty", i, cfg.PathPattern)
		}

		pattern, err := compilePattern(cfg.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, cfg.PathPattern, err)
		}

		rewrites := make([]rewriteRule, 0, len(cfg.PathRewrite))
		for j, rule := range cfg.PathRewrite {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("route %d (%s): rewrite %d: %w", i, cfg.PathPattern, j, err)
			}
			rewrites = append(rewrites, rewriteRule{pattern: re, replacement: rule.Replacement})
		}

		routes = append(routes, &Route{
			Config:   cfg,
			pattern:  pattern,
			rewrites: rewrites,
		})
	}

	logger.Info("Route table compiled", "routes", len(routes))
	return &Table{routes: routes, logger: logger}, nil
}

// Match returns the first route whose pattern matches the full path.
// Declaration order decides between overlapping patterns.
func (t *Table) Match(path string) (*Route, error) {
	for _, route := range t.routes {
		if route.pattern.MatchString(path) {
			t.logger.Debug("Route matched",
				"pattern", route.Config.PathPattern,
				"service", route.Config.TargetService,
				"path", path,
			)
			return route, nil
		}
	}
	return nil, types.ErrRouteNotFound
}

// Routes returns a copy of the route configurations in table order
func (t *Table) Routes() []types.RouteConfig {
	configs := make([]types.RouteConfig, len(t.routes))
	for i, route := range t.routes {
		configs[i] = route.Config
	}
	return configs
}

// compilePattern turns a path pattern into an anchored regular expression.
// Every character matches literally except `*`, which matches any
// sequence of characters, slashes included.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	expanded := strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("^" + expanded + "$")
}
