package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// RuleConfig names one admission rule with its per-IP and all-IP-aggregate
// token-bucket parameters, one entry per rate-limited endpoint
// (create_session, upload_media, media_get, clear_session, ...).
type RuleConfig struct {
	Name         string
	PerIPBurst   float64
	PerIPRPM     float64
	AllIPBurst   float64
	AllIPRPM     float64
}

// RPMToRPS converts a requests-per-minute rate to requests-per-second.
func RPMToRPS(rpm float64) float64 { return rpm / 60.0 }

// Admitter composes layered admission checks: up to four buckets per
// request — global-all, per-rule-all, per-ip-global, per-rule-ip —
// any one denial short-circuits the rest.
type Admitter struct {
	limiter *Limiter

	globalAllBurst, globalAllRPM float64
	globalIPBurst, globalIPRPM   float64
	rules                        map[string]RuleConfig
}

// NewAdmitter builds an Admitter backed by limiter, with a single
// "all traffic" global rule, a single-IP global rule (capping one IP's
// total traffic across every endpoint), and a set of named
// per-endpoint rules.
func NewAdmitter(limiter *Limiter, globalAllBurst, globalAllRPM, globalIPBurst, globalIPRPM float64, rules []RuleConfig) *Admitter {
	m := make(map[string]RuleConfig, len(rules))
	for _, r := range rules {
		m[r.Name] = r
	}
	return &Admitter{
		limiter:        limiter,
		globalAllBurst: globalAllBurst,
		globalAllRPM:   globalAllRPM,
		globalIPBurst:  globalIPBurst,
		globalIPRPM:    globalIPRPM,
		rules:          m,
	}
}

// Check admits a single request identified by (rule, ip) at the given
// cost. It evaluates global-all, per-rule-all, per-ip-global and
// per-rule-ip in order, returning the first denial encountered.
func (a *Admitter) Check(rule, ip string, cost float64) Decision {
	if d := a.limiter.Allow("http:all", a.globalAllBurst, RPMToRPS(a.globalAllRPM), cost); !d.Allowed {
		return d
	}
	cfg, known := a.rules[rule]
	if known {
		if d := a.limiter.Allow(fmt.Sprintf("http:%s:all", cfg.Name), cfg.AllIPBurst, RPMToRPS(cfg.AllIPRPM), cost); !d.Allowed {
			return d
		}
	}
	if d := a.limiter.Allow("http:global:"+ip, a.globalIPBurst, RPMToRPS(a.globalIPRPM), cost); !d.Allowed {
		return d
	}
	if !known {
		return Decision{Allowed: true}
	}
	if d := a.limiter.Allow(fmt.Sprintf("http:%s:%s", cfg.Name, ip), cfg.PerIPBurst, RPMToRPS(cfg.PerIPRPM), cost); !d.Allowed {
		return d
	}
	return Decision{Allowed: true}
}

// CheckRuleOnly admits against a named rule's own all-IP and per-IP
// buckets only, skipping the global-all and per-ip-global layers. Use
// it for a supplementary admission check — such as upload media count —
// that runs after a primary Check call already covered those two
// layers for the same request.
func (a *Admitter) CheckRuleOnly(rule, ip string, cost float64) Decision {
	cfg, known := a.rules[rule]
	if !known {
		return Decision{Allowed: true}
	}
	return a.checkRule(cfg, ip, cost)
}

func (a *Admitter) checkRule(cfg RuleConfig, ip string, cost float64) Decision {
	if d := a.limiter.Allow(fmt.Sprintf("http:%s:all", cfg.Name), cfg.AllIPBurst, RPMToRPS(cfg.AllIPRPM), cost); !d.Allowed {
		return d
	}
	if d := a.limiter.Allow(fmt.Sprintf("http:%s:%s", cfg.Name, ip), cfg.PerIPBurst, RPMToRPS(cfg.PerIPRPM), cost); !d.Allowed {
		return d
	}
	return Decision{Allowed: true}
}

// RetryAfterSeconds rounds a retry-after duration up to whole seconds,
// the unit the 429 response body reports it in.
func RetryAfterSeconds(d time.Duration) int {
	secs := d.Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.Ceil(secs))
}

// UploadCost computes the dynamic token cost for upload endpoints:
// cost = max(1, ceil(contentLength / costBytes)). A non-positive
// costBytes turns size-based cost off and yields 1.
func UploadCost(contentLength int64, costBytes int64) float64 {
	if costBytes <= 0 {
		return 1
	}
	c := math.Ceil(float64(contentLength) / float64(costBytes))
	if c < 1 {
		c = 1
	}
	return c
}
