package limiters

import (
	"time"

	"github.com/MrEthical07/fingate/internal/rate"
)

// CallSite names an inbound endpoint class with its own rate rule.
type CallSite string

const (
	CallSiteLoginEmail   CallSite = "login_email"
	CallSiteLoginIP      CallSite = "login_ip"
	CallSiteOTPIssue     CallSite = "otp_issue"
	CallSiteOTPVerify    CallSite = "otp_verify"
	CallSiteResetConfirm CallSite = "reset_confirm"
	CallSiteResetSubmit  CallSite = "reset_submit"
	CallSiteRegistration CallSite = "registration"
	CallSitePublicRates  CallSite = "public_rates"
	CallSiteRefresh      CallSite = "refresh"
)

// Rule is a fixed-window limit. A zero Limit or Window disables the rule.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Policy maps call sites to rules over a single shared limiter, so the
// capacity bound applies to every inbound key together.
type Policy struct {
	limiter *rate.Limiter
	rules   map[CallSite]Rule
}

// NewPolicy creates a call-site policy over limiter.
func NewPolicy(limiter *rate.Limiter, rules map[CallSite]Rule) *Policy {
	copied := make(map[CallSite]Rule, len(rules))
	for site, rule := range rules {
		copied[site] = rule
	}
	return &Policy{limiter: limiter, rules: copied}
}

// Check consumes one slot for key at site.
func (p *Policy) Check(site CallSite, key string) rate.Decision {
	if p == nil || p.limiter == nil {
		return rate.Decision{Allowed: true}
	}
	rule := p.rules[site]
	return p.limiter.Check(bucketKey(site, key), rule.Limit, rule.Window)
}

// CheckAll consumes a slot for every (site, key) pair in order and stops at
// the first rejection.
func (p *Policy) CheckAll(pairs ...SiteKey) (rate.Decision, CallSite) {
	for _, pair := range pairs {
		if pair.Key == "" {
			continue
		}
		if d := p.Check(pair.Site, pair.Key); !d.Allowed {
			return d, pair.Site
		}
	}
	return rate.Decision{Allowed: true}, ""
}

// Reset clears the bucket for key at site.
func (p *Policy) Reset(site CallSite, key string) {
	if p == nil || p.limiter == nil {
		return
	}
	p.limiter.Reset(bucketKey(site, key))
}

// Rule returns the configured rule for site.
func (p *Policy) Rule(site CallSite) Rule {
	if p == nil {
		return Rule{}
	}
	return p.rules[site]
}

// SiteKey pairs a call site with the key it is limited by.
type SiteKey struct {
	Site CallSite
	Key  string
}

func bucketKey(site CallSite, key string) string {
	return string(site) + ":" + key
}
