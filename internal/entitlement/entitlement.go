// Package entitlement decides whether an account may use a metered feature.
package entitlement

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/model"
)

var (
	ErrUnknownFeature  = errors.New("unknown feature")
	ErrAccountNotFound = errors.New("account not found")
)

type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

type Window string

const (
	WindowLifetime Window = "lifetime"
	WindowMonthly  Window = "monthly"
)

func (w Window) Valid() bool {
	return w == WindowLifetime || w == WindowMonthly
}

// Limit is a quota over a counting window. A negative Max means unlimited.
type Limit struct {
	Max    int
	Window Window
}

func (l Limit) Unlimited() bool {
	return l.Max < 0
}

// Gate caps owned resources and restricts templates for one tier.
// A negative MaxOwned means unlimited; an empty Templates list allows any.
type Gate struct {
	MaxOwned  int
	Templates []string
}

type Policy struct {
	Free Limit
	Paid Limit

	// Resources is nil for features that own no resources.
	Resources *Resources
}

type Resources struct {
	Free Gate
	Paid Gate
}

func (p Policy) limit(t Tier) Limit {
	if t == TierPaid {
		return p.Paid
	}
	return p.Free
}

func (r *Resources) gate(t Tier) Gate {
	if t == TierPaid {
		return r.Paid
	}
	return r.Free
}

// Decision is the outcome of one evaluation. Limit is -1 when unlimited.
type Decision struct {
	Allowed  bool            `json:"allowed"`
	Feature  feature.Feature `json:"feature"`
	Tier     Tier            `json:"tier"`
	Window   Window          `json:"window"`
	Used     int             `json:"used"`
	Limit    int             `json:"limit"`
	Message  string          `json:"message,omitempty"`
	ResetsAt *time.Time      `json:"resets_at,omitempty"`
}

type AccountLookup interface {
	GetByID(id int64) (*model.Account, error)
}

type UsageCounter interface {
	CountLifetime(accountID int64, f feature.Feature) (int, error)
	CountInCurrentMonth(accountID int64, f feature.Feature) (int, error)
}

// Evaluator holds no state beyond its policy table and collaborators.
type Evaluator struct {
	policies map[feature.Feature]Policy
	accounts AccountLookup
	usage    UsageCounter
	now      func() time.Time
}

func NewEvaluator(policies map[feature.Feature]Policy, accounts AccountLookup, usage UsageCounter, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	copied := make(map[feature.Feature]Policy, len(policies))
	for f, p := range policies {
		copied[f] = p
	}
	return &Evaluator{policies: copied, accounts: accounts, usage: usage, now: now}
}

// TierFor selects the tier from the account's subscription flag for f.
func TierFor(a *model.Account, f feature.Feature) Tier {
	if a.Subscribed(f) {
		return TierPaid
	}
	return TierFree
}

func (e *Evaluator) Policy(f feature.Feature) (Policy, bool) {
	p, ok := e.policies[f]
	return p, ok
}

// Evaluate reports whether accountID may perform one more metered action on f.
// Store errors are returned, never converted into an allow.
func (e *Evaluator) Evaluate(accountID int64, f feature.Feature) (Decision, error) {
	p, ok := e.policies[f]
	if !ok {
		return Decision{}, fmt.Errorf("evaluate %q: %w", f, ErrUnknownFeature)
	}

	a, err := e.accounts.GetByID(accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate: %w", err)
	}
	if a == nil {
		return Decision{}, fmt.Errorf("evaluate account %d: %w", accountID, ErrAccountNotFound)
	}

	tier := TierFor(a, f)
	lim := p.limit(tier)

	var used int
	switch lim.Window {
	case WindowMonthly:
		used, err = e.usage.CountInCurrentMonth(accountID, f)
	default:
		used, err = e.usage.CountLifetime(accountID, f)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate: %w", err)
	}

	d := Decision{
		Feature: f,
		Tier:    tier,
		Window:  lim.Window,
		Used:    used,
		Limit:   lim.Max,
	}
	if lim.Unlimited() {
		d.Limit = -1
		d.Allowed = true
		return d, nil
	}
	if lim.Window == WindowMonthly {
		reset := nextMonthStart(e.now())
		d.ResetsAt = &reset
	}

	d.Allowed = used < lim.Max
	if !d.Allowed {
		d.Message = denialMessage(d)
	}
	return d, nil
}

// CheckResourceCap decides whether an account owning `owned` resources of f
// may create one more.
func (e *Evaluator) CheckResourceCap(a *model.Account, f feature.Feature, owned int) (Decision, error) {
	p, ok := e.policies[f]
	if !ok {
		return Decision{}, fmt.Errorf("check resource cap %q: %w", f, ErrUnknownFeature)
	}
	tier := TierFor(a, f)
	d := Decision{Feature: f, Tier: tier, Window: WindowLifetime, Used: owned, Limit: -1, Allowed: true}
	if p.Resources == nil {
		return d, nil
	}

	g := p.Resources.gate(tier)
	if g.MaxOwned < 0 {
		return d, nil
	}
	d.Limit = g.MaxOwned
	d.Allowed = owned < g.MaxOwned
	if !d.Allowed {
		if tier == TierFree {
			d.Message = fmt.Sprintf("The free plan includes %d %s. Upgrade to %s Pro to create more.",
				g.MaxOwned, plural(g.MaxOwned, "resume", "resumes"), f.Title())
		} else {
			d.Message = fmt.Sprintf("You've reached your plan limit of %d %s.",
				g.MaxOwned, plural(g.MaxOwned, "resume", "resumes"))
		}
	}
	return d, nil
}

// TemplateAllowed reports whether the account's tier for f may use template.
// Unknown features allow nothing.
func (e *Evaluator) TemplateAllowed(a *model.Account, f feature.Feature, template string) bool {
	p, ok := e.policies[f]
	if !ok {
		return false
	}
	if p.Resources == nil {
		return true
	}
	g := p.Resources.gate(TierFor(a, f))
	return len(g.Templates) == 0 || slices.Contains(g.Templates, template)
}

func denialMessage(d Decision) string {
	unit := plural(d.Limit, "use", "uses")
	switch {
	case d.Tier == TierFree:
		return fmt.Sprintf("You've used all %d free %s of %s. Upgrade to %s Pro to unlock more.",
			d.Limit, unit, d.Feature.Title(), d.Feature.Title())
	case d.Window == WindowMonthly && d.ResetsAt != nil:
		return fmt.Sprintf("You've reached your monthly limit of %d %s of %s. Your limit resets on %s.",
			d.Limit, unit, d.Feature.Title(), d.ResetsAt.Format("January 2, 2006"))
	default:
		return fmt.Sprintf("You've reached your plan limit of %d %s of %s.",
			d.Limit, unit, d.Feature.Title())
	}
}

func nextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
