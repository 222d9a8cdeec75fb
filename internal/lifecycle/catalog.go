package lifecycle

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Estimate is the default effort and price suggested for a project type.
type Estimate struct {
	Label string
	Hours int
	Cost  decimal.Decimal
}

// Catalog maps project-type tags to default estimates. Tags outside the
// catalog are still accepted as free text; they simply get no defaults.
type Catalog map[string]Estimate

// DefaultCatalog returns the agency's standard service list.
func DefaultCatalog() Catalog {
	return Catalog{
		"web-development":     {Label: "Web Development", Hours: 40, Cost: decimal.NewFromInt(25000)},
		"mobile-app":          {Label: "Mobile App", Hours: 60, Cost: decimal.NewFromInt(40000)},
		"ui-ux-design":        {Label: "UI/UX Design", Hours: 20, Cost: decimal.NewFromInt(15000)},
		"seo-optimization":    {Label: "SEO Optimization", Hours: 15, Cost: decimal.NewFromInt(10000)},
		"custom":              {Label: "Custom Project", Hours: 30, Cost: decimal.NewFromInt(20000)},
		"website-fullstack":   {Label: "Full-Stack Website", Hours: 120, Cost: decimal.NewFromInt(45000)},
		"website-frontend":    {Label: "Frontend Website", Hours: 80, Cost: decimal.NewFromInt(28000)},
		"business-automation": {Label: "Business Automation", Hours: 60, Cost: decimal.NewFromInt(35000)},
		"social-media-boost":  {Label: "Social Media Boost", Hours: 40, Cost: decimal.NewFromInt(15000)},
		"business-boost":      {Label: "Business Boost", Hours: 100, Cost: decimal.NewFromInt(55000)},
	}
}

func (c Catalog) Lookup(projectType string) (Estimate, bool) {
	if c == nil {
		return Estimate{}, false
	}
	est, ok := c[strings.ToLower(strings.TrimSpace(projectType))]
	return est, ok
}
