package policy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"github.com/polisai/polis-mam/pkg/domain"
)

// NormalizeURL renders u as scheme://host[:port]/path with the scheme and
// host lower-cased. Query and fragment are dropped. Opaque URLs such as
// mailto: render as scheme:opaque.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		return scheme + ":" + u.Opaque
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	host := strings.ToLower(u.Host)
	if scheme == "" {
		return host + path
	}
	return scheme + "://" + host + path
}

// GlobMatcher matches URLs against a gobwas/glob pattern. A pattern without
// '/' that names a host, such as "*.dropbox.com" or "intranet.contoso.com:8443",
// is a host rule and covers every scheme and path. Host rules with a port are
// matched against host:port, where a URL without an explicit port uses its
// scheme's default. All other patterns, "mailto:*" included, are matched
// against NormalizeURL.
type GlobMatcher struct {
	pattern  string
	hostOnly bool
	withPort bool
	g        glob.Glob
}

// CompileURLPattern compiles a URL rule pattern.
func CompileURLPattern(pattern string) (*GlobMatcher, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, fmt.Errorf("url pattern is empty")
	}
	g, err := glob.Compile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern %q: %w", pattern, err)
	}
	m := &GlobMatcher{pattern: trimmed, g: g}
	if !strings.Contains(trimmed, "/") {
		host, _, hasPort := strings.Cut(trimmed, ":")
		switch {
		case !hasPort:
			m.hostOnly = true
		case isPortPattern(trimmed[len(host)+1:]) && looksLikeHost(host):
			m.hostOnly, m.withPort = true, true
		}
	}
	return m, nil
}

// isPortPattern reports whether s is a port number or a wildcard over one.
func isPortPattern(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '*' && r != '?' {
			return false
		}
	}
	return true
}

// looksLikeHost tells "intranet.contoso.com" and "*.example" apart from a
// bare scheme like "mailto" or "tel".
func looksLikeHost(s string) bool {
	return s == "localhost" || strings.ContainsAny(s, ".*?[{")
}

// Match implements domain.URLMatcher.
func (m *GlobMatcher) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	if !m.hostOnly {
		return m.g.Match(NormalizeURL(u))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if !m.withPort {
		return m.g.Match(host)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort(strings.ToLower(u.Scheme))
	}
	if port == "" {
		return false
	}
	return m.g.Match(net.JoinHostPort(host, port))
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

func (m *GlobMatcher) String() string {
	return m.pattern
}

// URLDecision explains a URL verdict.
type URLDecision struct {
	Allowed bool
	// Source is the matching rule ID, "rego", "default" or "nil_url".
	Source string
	Reason string
}

// DecideURL applies rules in order, then the evaluator, then the default.
// Evaluator failures fall back to the default and are returned alongside
// the decision for logging.
func DecideURL(ctx context.Context, rules domain.URLRules, kind domain.URLKind, u *url.URL) (URLDecision, error) {
	if u == nil {
		return URLDecision{Allowed: rules.Default != domain.EffectBlock, Source: "nil_url"}, nil
	}

	for _, rule := range rules.Rules {
		if rule.Matcher == nil || !rule.Matcher.Match(u) {
			continue
		}
		return URLDecision{
			Allowed: rule.Effect == domain.EffectAllow,
			Source:  rule.ID,
			Reason:  rule.Pattern,
		}, nil
	}

	var evalErr error
	if rules.Evaluator != nil {
		effect, err := rules.Evaluator.EvaluateURL(ctx, kind, u)
		switch {
		case err != nil:
			evalErr = fmt.Errorf("evaluate %s %s: %w", kind, NormalizeURL(u), err)
		case effect != domain.EffectUnset:
			return URLDecision{Allowed: effect == domain.EffectAllow, Source: "rego"}, nil
		}
	}

	return URLDecision{Allowed: rules.Default != domain.EffectBlock, Source: "default"}, evalErr
}
