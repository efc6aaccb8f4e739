package config

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/ltgvault/internal/entitlement"
	"github.com/dukerupert/ltgvault/internal/feature"
)

//go:embed default.yaml
var defaultCatalog []byte

type catalogFile struct {
	Features map[string]featureFile `yaml:"features"`
}

type featureFile struct {
	Free      limitFile         `yaml:"free"`
	Paid      limitFile         `yaml:"paid"`
	Prices    Prices            `yaml:"prices"`
	Resources *resourcesFile    `yaml:"resources"`
	Prompts   map[string]string `yaml:"prompts"`
}

type limitFile struct {
	Max    *int   `yaml:"max"`
	Window string `yaml:"window"`
}

type resourcesFile struct {
	Free gateFile `yaml:"free"`
	Paid gateFile `yaml:"paid"`
}

type gateFile struct {
	MaxOwned  int      `yaml:"max_owned"`
	Templates []string `yaml:"templates"`
}

// Prices are the Stripe price ids that unlock a feature's paid tier.
type Prices struct {
	Monthly string `yaml:"monthly"`
	Annual  string `yaml:"annual"`
}

// Catalog is the policy, price and prompt table loaded once at start.
// It is read-only after LoadCatalog returns; accessors hand out copies.
type Catalog struct {
	policies map[feature.Feature]entitlement.Policy
	prices   map[feature.Feature]Prices
	byPrice  map[string]feature.Feature
	prompts  map[feature.Feature]map[string]*template.Template
}

// LoadCatalog reads the catalog at path, or the embedded default when path
// is empty, applies price overrides from the environment and validates it.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file %q: %w", path, err)
		}
		data = b
	}
	return ParseCatalog(data, os.Getenv)
}

// ParseCatalog builds a catalog from YAML. getenv supplies price overrides
// named LTGV_PRICE_<FEATURE>_MONTHLY and LTGV_PRICE_<FEATURE>_ANNUAL.
func ParseCatalog(data []byte, getenv func(string) string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	var errs []FieldError
	for name := range f.Features {
		if _, err := feature.Parse(name); err != nil {
			errs = append(errs, FieldError{Field: "features." + name, Message: "unknown feature"})
		}
	}

	c := &Catalog{
		policies: make(map[feature.Feature]entitlement.Policy),
		prices:   make(map[feature.Feature]Prices),
		byPrice:  make(map[string]feature.Feature),
		prompts:  make(map[feature.Feature]map[string]*template.Template),
	}

	for _, ft := range feature.All {
		field := "features." + string(ft)
		ff, ok := f.Features[string(ft)]
		if !ok {
			errs = append(errs, FieldError{Field: field, Message: "missing"})
			continue
		}

		free, ferrs := ff.Free.limit(field + ".free")
		errs = append(errs, ferrs...)
		paid, perrs := ff.Paid.limit(field + ".paid")
		errs = append(errs, perrs...)

		policy := entitlement.Policy{Free: free, Paid: paid}
		if ff.Resources != nil {
			policy.Resources = &entitlement.Resources{
				Free: entitlement.Gate{MaxOwned: ff.Resources.Free.MaxOwned, Templates: slices.Clone(ff.Resources.Free.Templates)},
				Paid: entitlement.Gate{MaxOwned: ff.Resources.Paid.MaxOwned, Templates: slices.Clone(ff.Resources.Paid.Templates)},
			}
		}
		c.policies[ft] = policy

		prices := ff.Prices
		envName := "LTGV_PRICE_" + strings.ToUpper(string(ft))
		if v := getenv(envName + "_MONTHLY"); v != "" {
			prices.Monthly = v
		}
		if v := getenv(envName + "_ANNUAL"); v != "" {
			prices.Annual = v
		}
		c.prices[ft] = prices
		for _, id := range []string{prices.Monthly, prices.Annual} {
			if id == "" {
				continue
			}
			if other, dup := c.byPrice[id]; dup && other != ft {
				errs = append(errs, FieldError{Field: field + ".prices", Message: fmt.Sprintf("price %q already used by %s", id, other)})
				continue
			}
			c.byPrice[id] = ft
		}

		if _, ok := ff.Prompts["system"]; !ok {
			errs = append(errs, FieldError{Field: field + ".prompts.system", Message: "missing"})
		}
		if _, ok := ff.Prompts["user"]; !ok {
			errs = append(errs, FieldError{Field: field + ".prompts.user", Message: "missing"})
		}
		c.prompts[ft] = make(map[string]*template.Template, len(ff.Prompts))
		for name, text := range ff.Prompts {
			tmpl, err := template.New(string(ft) + "." + name).Option("missingkey=zero").Parse(text)
			if err != nil {
				errs = append(errs, FieldError{Field: field + ".prompts." + name, Message: err.Error()})
				continue
			}
			c.prompts[ft][name] = tmpl
		}
	}

	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}
	return c, nil
}

func (l limitFile) limit(field string) (entitlement.Limit, []FieldError) {
	var errs []FieldError
	w := entitlement.Window(l.Window)
	if !w.Valid() {
		errs = append(errs, FieldError{Field: field + ".window", Message: fmt.Sprintf("must be lifetime or monthly, got %q", l.Window)})
	}
	if l.Max == nil {
		errs = append(errs, FieldError{Field: field + ".max", Message: "missing"})
		return entitlement.Limit{}, errs
	}
	return entitlement.Limit{Max: *l.Max, Window: w}, errs
}

// Policies returns a copy of the per-feature entitlement policies.
func (c *Catalog) Policies() map[feature.Feature]entitlement.Policy {
	return maps.Clone(c.policies)
}

func (c *Catalog) Prices(f feature.Feature) Prices {
	return c.prices[f]
}

// FeatureForPrice maps a Stripe price id back to the feature it unlocks.
func (c *Catalog) FeatureForPrice(priceID string) (feature.Feature, bool) {
	f, ok := c.byPrice[priceID]
	return f, ok
}

// HasPrompt reports whether the feature defines the named prompt.
func (c *Catalog) HasPrompt(f feature.Feature, name string) bool {
	_, ok := c.prompts[f][name]
	return ok
}

// RenderPrompt executes the named prompt template for f with data.
func (c *Catalog) RenderPrompt(f feature.Feature, name string, data any) (string, error) {
	tmpl, ok := c.prompts[f][name]
	if !ok {
		return "", fmt.Errorf("prompt %s.%s not defined", f, name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %s.%s: %w", f, name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
