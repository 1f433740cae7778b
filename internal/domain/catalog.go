package domain

import (
	"fmt"
	"time"
)

// ResourceClass categorizes what a binding points at.
type ResourceClass string

const (
	ResourceClassCompute  ResourceClass = "compute"
	ResourceClassDatabase ResourceClass = "database"
	ResourceClassNetwork  ResourceClass = "network"
	ResourceClassSecurity ResourceClass = "security"
)

// ValidResourceClass reports whether s names a known resource class.
func ValidResourceClass(s string) bool {
	switch ResourceClass(s) {
	case ResourceClassCompute, ResourceClassDatabase, ResourceClassNetwork, ResourceClassSecurity:
		return true
	}
	return false
}

// TrustTier is an environment's confirmation strictness level.
// The tier comes from explicit configuration; inferring it from account
// identifiers is a convenience fallback, and the final fallback is the most
// restrictive tier.
type TrustTier string

const (
	// TierUnrestricted allows mutating operations without confirmation.
	TierUnrestricted TrustTier = "unrestricted"
	// TierConfirmDestructive requires confirmation for destructive verbs only.
	TierConfirmDestructive TrustTier = "confirm-destructive"
	// TierConfirmAll requires confirmation for every mutating verb.
	TierConfirmAll TrustTier = "confirm-all"
)

// ValidTrustTier reports whether s names a known trust tier.
func ValidTrustTier(s string) bool {
	switch TrustTier(s) {
	case TierUnrestricted, TierConfirmDestructive, TierConfirmAll:
		return true
	}
	return false
}

// ResourceBinding maps one (service, environment, class) slot to a concrete
// provider resource. Name disambiguates when a class has several bindings.
type ResourceBinding struct {
	Service     string
	Environment string
	Class       ResourceClass
	Name        string

	Provider      string
	Kind          string
	Ref           string
	Region        string
	Account       string
	ResourceGroup string
	Project       string

	// Attributes carries provider-specific extras such as the log group
	// backing GetLogs.
	Attributes map[string]string
}

// Slot returns the binding's position inside its service for error messages.
func (b ResourceBinding) Slot() string {
	if b.Name != "" {
		return fmt.Sprintf("%s/%s/%s[%s]", b.Service, b.Environment, b.Class, b.Name)
	}
	return fmt.Sprintf("%s/%s/%s", b.Service, b.Environment, b.Class)
}

// LogGroup returns the configured log group attribute, or an empty string.
func (b ResourceBinding) LogGroup() string {
	return b.Attributes["log_group"]
}

// EnvironmentInfo describes one configured environment.
type EnvironmentInfo struct {
	Name string
	Tier TrustTier
}

// ServiceDomain is a logical service and its per-environment bindings.
type ServiceDomain struct {
	Name         string
	Environments map[string][]ResourceBinding
}

// CatalogSnapshot is one immutable, fully-loaded view of the catalog.
// Resolvers hold a snapshot for the duration of a lookup; reloads swap the
// whole snapshot atomically and never mutate a published one.
type CatalogSnapshot struct {
	Version      int64
	LoadedAt     time.Time
	Services     map[string]*ServiceDomain
	Environments map[string]EnvironmentInfo

	// AccountTiers maps provider account identifiers to tiers, used only
	// when an environment has no explicit tier.
	AccountTiers map[string]TrustTier
}

// Tier resolves the trust tier for an environment within this snapshot.
func (s *CatalogSnapshot) Tier(environment string) TrustTier {
	if info, ok := s.Environments[environment]; ok && info.Tier != "" {
		return info.Tier
	}
	if svcTier := s.inferTierFromAccounts(environment); svcTier != "" {
		return svcTier
	}
	return TierConfirmAll
}

func (s *CatalogSnapshot) inferTierFromAccounts(environment string) TrustTier {
	for _, svc := range s.Services {
		for _, binding := range svc.Environments[environment] {
			if tier, ok := s.AccountTiers[binding.Account]; ok && binding.Account != "" {
				return tier
			}
		}
	}
	return ""
}

// CatalogSource supplies the current catalog snapshot. Implementations must
// return a fully-consistent snapshot and may swap it on reload.
type CatalogSource interface {
	Snapshot() *CatalogSnapshot
}
