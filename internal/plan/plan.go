package plan

import (
	"fmt"

	"github.com/vnmchuo/review-digest/internal/quota"
)

const (
	Free      = "free"
	Pro       = "pro"
	Anonymous = "anonymous"
)

// Tier tags the two policy variants. It decides the admission window and
// how a denial is reported.
type Tier int

const (
	TierAnonymous Tier = iota
	TierIdentified
)

// Ceilings maps an operation to its per-period ceiling. A missing
// operation has a ceiling of zero.
type Ceilings map[quota.Operation]int64

// Policy is an immutable snapshot of an actor's limits.
type Policy struct {
	Tier     Tier
	Plan     string
	Ceilings Ceilings
}

// Window is daily for identified actors and monthly for anonymous ones.
func (p Policy) Window() quota.Window {
	if p.Tier == TierIdentified {
		return quota.Daily
	}
	return quota.Monthly
}

func (p Policy) Ceiling(op quota.Operation) int64 {
	return p.Ceilings[op]
}

// Catalog holds every plan's ceilings plus the anonymous policy.
type Catalog struct {
	DefaultPlan string              `yaml:"default_plan"`
	Plans       map[string]Ceilings `yaml:"plans"`
	Anonymous   Ceilings            `yaml:"anonymous"`
}

func (c *Catalog) Validate() error {
	if c.DefaultPlan == "" {
		return fmt.Errorf("default_plan is required")
	}
	if _, ok := c.Plans[c.DefaultPlan]; !ok {
		return fmt.Errorf("default_plan %q is not defined", c.DefaultPlan)
	}
	for name, ceilings := range c.Plans {
		if err := ceilings.validate(); err != nil {
			return fmt.Errorf("plan %s: %w", name, err)
		}
	}
	if err := c.Anonymous.validate(); err != nil {
		return fmt.Errorf("anonymous: %w", err)
	}
	return nil
}

// validate rejects negative ceilings and operations outside
// quota.Operations.
func (c Ceilings) validate() error {
	for op, n := range c {
		if !knownOperation(op) {
			return fmt.Errorf("unknown operation %q", op)
		}
		if n < 0 {
			return fmt.Errorf("negative ceiling for %s", op)
		}
	}
	return nil
}

func knownOperation(op quota.Operation) bool {
	for _, known := range quota.Operations {
		if op == known {
			return true
		}
	}
	return false
}

func (c *Catalog) AnonymousPolicy() Policy {
	return Policy{Tier: TierAnonymous, Plan: Anonymous, Ceilings: copyCeilings(c.Anonymous)}
}

func (c *Catalog) DefaultPolicy() Policy {
	return Policy{Tier: TierIdentified, Plan: c.DefaultPlan, Ceilings: copyCeilings(c.Plans[c.DefaultPlan])}
}

// PolicyForProfile starts from the profile's plan (or the default plan when
// the name is unknown) and applies the profile's per-operation overrides.
func (c *Catalog) PolicyForProfile(p *Profile) Policy {
	name := p.Plan
	base, ok := c.Plans[name]
	if !ok {
		name = c.DefaultPlan
		base = c.Plans[name]
	}
	ceilings := copyCeilings(base)
	for op, n := range p.Overrides {
		ceilings[op] = n
	}
	return Policy{Tier: TierIdentified, Plan: name, Ceilings: ceilings}
}

func copyCeilings(src Ceilings) Ceilings {
	dst := make(Ceilings, len(src))
	for op, n := range src {
		dst[op] = n
	}
	return dst
}

// Defaults is the built-in catalog, used when no plans file is configured.
type Defaults struct {
	FreeAnalyze, FreeReviews, FreeImport int64
	ProAnalyze, ProReviews, ProImport    int64
	AnonMonthlyAnalyze                   int64
}

func DefaultCatalog(d Defaults) *Catalog {
	return &Catalog{
		DefaultPlan: Free,
		Plans: map[string]Ceilings{
			Free: {quota.OpAnalyze: d.FreeAnalyze, quota.OpReviews: d.FreeReviews, quota.OpImport: d.FreeImport},
			Pro:  {quota.OpAnalyze: d.ProAnalyze, quota.OpReviews: d.ProReviews, quota.OpImport: d.ProImport},
		},
		Anonymous: Ceilings{quota.OpAnalyze: d.AnonMonthlyAnalyze, quota.OpReviews: d.FreeReviews},
	}
}
