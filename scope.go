package malja

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// Match types of a Rule
const (
	MatchHost = "host"
	MatchURL  = "url"
)

// Rule is a single scope rule, a compiled pattern matched against the request host or the full URL
type Rule struct {
	Pattern   *regexp.Regexp
	MatchType string
}

func (r Rule) matches(host, url string) bool {
	switch r.MatchType {
	case MatchHost:
		return r.Pattern.MatchString(host)
	case MatchURL:
		return r.Pattern.MatchString(url)
	}
	return false
}

// Scope decides which requests may be answered with the offline page.
// Exclude rules win over include rules, DefaultAllow applies when no rule matches
type Scope struct {
	mu           sync.RWMutex
	IncludeRules map[string]Rule // key format: "pattern|matchType"
	ExcludeRules map[string]Rule // key format: "pattern|matchType"
	DefaultAllow bool
}

func NewScope(defaultAllow bool) *Scope {
	return &Scope{
		IncludeRules: make(map[string]Rule),
		ExcludeRules: make(map[string]Rule),
		DefaultAllow: defaultAllow,
	}
}

// NewScopeFromConfig builds the scope from the configured rules. Without include rules the origin host
// is the only host in scope
func NewScopeFromConfig(cfg ScopeConfig, originHost string) (*Scope, error) {
	scope := NewScope(originHost == "" && len(cfg.Include) == 0)
	for _, rule := range cfg.Include {
		if err := scope.AddRule(rule.Pattern, rule.Match, false); err != nil {
			return nil, fmt.Errorf("adding include rule %q : %w", rule.Pattern, err)
		}
	}
	for _, rule := range cfg.Exclude {
		if err := scope.AddRule(rule.Pattern, rule.Match, true); err != nil {
			return nil, fmt.Errorf("adding exclude rule %q : %w", rule.Pattern, err)
		}
	}
	if len(cfg.Include) == 0 && originHost != "" {
		if err := scope.AddRule("^"+regexp.QuoteMeta(originHost)+"$", MatchHost, false); err != nil {
			return nil, fmt.Errorf("adding origin rule : %w", err)
		}
	}
	return scope, nil
}

func ruleKey(pattern, matchType string) string {
	return fmt.Sprintf("%s|%s", pattern, matchType)
}

// AddRule adds a rule to the scope, a leading "-" on the pattern is stripped
func (s *Scope) AddRule(pattern, matchType string, exclude bool) error {
	matchType = strings.ToLower(matchType)
	if matchType != MatchHost && matchType != MatchURL {
		return fmt.Errorf("invalid match type: %s", matchType)
	}

	compiled, err := regexp.Compile(strings.TrimPrefix(pattern, "-"))
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	key := ruleKey(compiled.String(), matchType)

	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.IncludeRules
	if exclude {
		rules = s.ExcludeRules
	}
	if _, exists := rules[key]; exists {
		return fmt.Errorf("rule already exists: %s", key)
	}
	rules[key] = Rule{Pattern: compiled, MatchType: matchType}
	return nil
}

// Matches reports whether the request is in scope
func (s *Scope) Matches(req *http.Request) bool {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	url := req.URL.String()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.ExcludeRules {
		if rule.matches(host, url) {
			return false
		}
	}
	for _, rule := range s.IncludeRules {
		if rule.matches(host, url) {
			return true
		}
	}
	return s.DefaultAllow
}
