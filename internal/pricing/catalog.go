package pricing

import (
	"fmt"

	"tradehub-backend/internal/domain"
)

// UsageType is the closed set of credit-consuming actions. Unknown values are
// rejected at the boundary instead of defaulting to a cost.
type UsageType string

const (
	UsageJobApplication  UsageType = "JOB_APPLICATION"
	UsageListingBoost    UsageType = "LISTING_BOOST"
	UsageFeaturedListing UsageType = "FEATURED_LISTING"
	UsageLeadUnlock      UsageType = "LEAD_UNLOCK"
	UsageDirectMessage   UsageType = "DIRECT_MESSAGE"
)

// PackageType is the closed set of purchasable credit bundles.
type PackageType string

const (
	PackageStarter  PackageType = "STARTER"
	PackageStandard PackageType = "STANDARD"
	PackagePro      PackageType = "PRO"
)

// Package describes a purchasable bundle: the credits granted and the charge
// in the payment gateway's smallest currency unit.
type Package struct {
	Type       PackageType
	Credits    int64
	PriceCents int64
}

// Catalog resolves usage types to credit costs and package types to bundles.
type Catalog struct {
	usageCosts map[UsageType]int64
	packages   map[PackageType]Package
	// tolerance is the maximum absolute disagreement allowed between a
	// caller-supplied expected cost and the resolved cost.
	tolerance int64
}

// DefaultUsageCosts are the built-in credit costs per usage action.
var DefaultUsageCosts = map[UsageType]int64{
	UsageJobApplication:  12,
	UsageListingBoost:    8,
	UsageFeaturedListing: 20,
	UsageLeadUnlock:      5,
	UsageDirectMessage:   1,
}

// DefaultPackages are the built-in purchasable bundles.
var DefaultPackages = map[PackageType]Package{
	PackageStarter:  {Type: PackageStarter, Credits: 25, PriceCents: 999},
	PackageStandard: {Type: PackageStandard, Credits: 60, PriceCents: 1999},
	PackagePro:      {Type: PackagePro, Credits: 150, PriceCents: 3999},
}

// NewCatalog builds a catalog. Nil maps fall back to the defaults.
func NewCatalog(usageCosts map[UsageType]int64, packages map[PackageType]Package, tolerance int64) *Catalog {
	if usageCosts == nil {
		usageCosts = DefaultUsageCosts
	}
	if packages == nil {
		packages = DefaultPackages
	}
	return &Catalog{usageCosts: usageCosts, packages: packages, tolerance: tolerance}
}

// ResolveUsageCost returns the credit cost of a usage action.
func (c *Catalog) ResolveUsageCost(usage UsageType) (int64, error) {
	cost, ok := c.usageCosts[usage]
	if !ok {
		return 0, &domain.ValidationError{Field: "usage_type", Reason: fmt.Sprintf("unknown usage type %q", usage)}
	}
	return cost, nil
}

// ResolvePackage returns the bundle for a package type.
func (c *Catalog) ResolvePackage(pkg PackageType) (Package, error) {
	p, ok := c.packages[pkg]
	if !ok {
		return Package{}, &domain.ValidationError{Field: "package_type", Reason: fmt.Sprintf("unknown package type %q", pkg)}
	}
	return p, nil
}

// CheckExpectedCost rejects a caller-supplied cost that disagrees with the
// resolved cost beyond the configured tolerance. expected == 0 means the
// caller did not assert a cost.
func (c *Catalog) CheckExpectedCost(usage UsageType, expected, resolved int64) error {
	if expected == 0 {
		return nil
	}
	diff := expected - resolved
	if diff < 0 {
		diff = -diff
	}
	if diff > c.tolerance {
		return &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("expected cost %d disagrees with resolved cost %d for %s", expected, resolved, usage),
		}
	}
	return nil
}
