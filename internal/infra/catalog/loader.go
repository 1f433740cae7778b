package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

// catalogDocument is the on-disk shape of domains.yml.
//
//	environments:
//	  prod: {tier: confirm-all}
//	services:
//	  payment_processor:
//	    staging:
//	      compute: {provider: aws, kind: asg, ref: payment-asg-staging}
type catalogDocument struct {
	Environments map[string]environmentDoc             `yaml:"environments"`
	Services     map[string]map[string]environmentBody `yaml:"services"`
}

type environmentDoc struct {
	Tier string `yaml:"tier"`
}

// environmentBody maps a resource class to one binding or a list of them.
type environmentBody map[string]bindingList

type bindingDoc struct {
	Name          string            `yaml:"name"`
	Provider      string            `yaml:"provider"`
	Kind          string            `yaml:"kind"`
	Ref           string            `yaml:"ref"`
	Refs          []string          `yaml:"refs"`
	Region        string            `yaml:"region"`
	Account       string            `yaml:"account"`
	ResourceGroup string            `yaml:"resource_group"`
	Project       string            `yaml:"project"`
	Attributes    map[string]string `yaml:"attributes"`
}

// bindingList accepts either a single mapping or a sequence of mappings, so
// the simple one-binding-per-class case stays terse.
type bindingList []bindingDoc

func (l *bindingList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var single bindingDoc
		if err := node.Decode(&single); err != nil {
			return err
		}
		*l = bindingList{single}
		return nil
	case yaml.SequenceNode:
		var many []bindingDoc
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = bindingList(many)
		return nil
	default:
		return fmt.Errorf("line %d: binding must be a mapping or a sequence", node.Line)
	}
}

// providersDocument is the on-disk shape of providers.yml. Keys are provider
// names; each entry carries per-environment defaults merged into bindings that
// leave the field empty.
type providersDocument map[string]providerDoc

type providerDoc struct {
	DefaultRegion  string            `yaml:"default_region"`
	Accounts       map[string]string `yaml:"accounts"`
	ResourceGroups map[string]string `yaml:"resource_groups"`
	Projects       map[string]string `yaml:"projects"`
	AccountTiers   map[string]string `yaml:"account_tiers"`
}

// LoadCatalog parses the domain and provider documents into one snapshot.
// providersPath may be empty, in which case no defaults are merged.
func LoadCatalog(domainsPath, providersPath string) (*domain.CatalogSnapshot, error) {
	raw, err := os.ReadFile(domainsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrMalformedCatalog, domainsPath, err)
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrMalformedCatalog, domainsPath, err)
	}

	providers := providersDocument{}
	if providersPath != "" {
		provRaw, err := os.ReadFile(providersPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrMalformedCatalog, providersPath, err)
			}
		} else if err := yaml.Unmarshal(provRaw, &providers); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrMalformedCatalog, providersPath, err)
		}
	}

	snapshot := &domain.CatalogSnapshot{
		Services:     make(map[string]*domain.ServiceDomain, len(doc.Services)),
		Environments: make(map[string]domain.EnvironmentInfo, len(doc.Environments)),
		AccountTiers: make(map[string]domain.TrustTier),
	}

	for name, env := range doc.Environments {
		if env.Tier != "" && !domain.ValidTrustTier(env.Tier) {
			return nil, fmt.Errorf("%w: environment %q has unknown tier %q", apperrors.ErrMalformedCatalog, name, env.Tier)
		}
		snapshot.Environments[name] = domain.EnvironmentInfo{Name: name, Tier: domain.TrustTier(env.Tier)}
	}

	for _, prov := range providers {
		for account, tier := range prov.AccountTiers {
			if !domain.ValidTrustTier(tier) {
				return nil, fmt.Errorf("%w: account %q has unknown tier %q", apperrors.ErrMalformedCatalog, account, tier)
			}
			snapshot.AccountTiers[account] = domain.TrustTier(tier)
		}
	}

	for serviceName, envs := range doc.Services {
		svc := &domain.ServiceDomain{
			Name:         serviceName,
			Environments: make(map[string][]domain.ResourceBinding, len(envs)),
		}
		for envName, body := range envs {
			bindings, err := buildBindings(serviceName, envName, body, providers)
			if err != nil {
				return nil, err
			}
			svc.Environments[envName] = bindings

			// Environments referenced only by services still show up in
			// listings, with the tier left to account inference.
			if _, ok := snapshot.Environments[envName]; !ok {
				snapshot.Environments[envName] = domain.EnvironmentInfo{Name: envName}
			}
		}
		snapshot.Services[serviceName] = svc
	}

	return snapshot, nil
}

func buildBindings(service, env string, body environmentBody, providers providersDocument) ([]domain.ResourceBinding, error) {
	classes := make([]string, 0, len(body))
	for class := range body {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var out []domain.ResourceBinding
	seen := make(map[string]bool)

	for _, class := range classes {
		if !domain.ValidResourceClass(class) {
			return nil, fmt.Errorf("%w: %s/%s has unknown resource class %q", apperrors.ErrMalformedCatalog, service, env, class)
		}
		for _, doc := range body[class] {
			expanded, err := expandBinding(service, env, domain.ResourceClass(class), doc, providers)
			if err != nil {
				return nil, err
			}
			for _, b := range expanded {
				key := string(b.Class) + "/" + b.Name
				if seen[key] {
					return nil, fmt.Errorf("%w: duplicate binding %s", apperrors.ErrMalformedCatalog, b.Slot())
				}
				seen[key] = true
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// expandBinding turns one document entry into bindings, one per ref. Entries
// with a refs list become one named binding per ref so callers can pick one.
func expandBinding(service, env string, class domain.ResourceClass, doc bindingDoc, providers providersDocument) ([]domain.ResourceBinding, error) {
	if doc.Provider == "" {
		return nil, fmt.Errorf("%w: %s/%s/%s is missing a provider", apperrors.ErrMalformedCatalog, service, env, class)
	}

	refs := doc.Refs
	if len(refs) == 0 {
		if doc.Ref == "" {
			return nil, fmt.Errorf("%w: %s/%s/%s is missing a ref", apperrors.ErrMalformedCatalog, service, env, class)
		}
		refs = []string{doc.Ref}
	}

	prov := providers[doc.Provider]
	out := make([]domain.ResourceBinding, 0, len(refs))
	for _, ref := range refs {
		b := domain.ResourceBinding{
			Service:       service,
			Environment:   env,
			Class:         class,
			Name:          doc.Name,
			Provider:      doc.Provider,
			Kind:          doc.Kind,
			Ref:           ref,
			Region:        doc.Region,
			Account:       doc.Account,
			ResourceGroup: doc.ResourceGroup,
			Project:       doc.Project,
			Attributes:    doc.Attributes,
		}
		// A refs list yields several bindings in one slot; name each by its
		// ref so selection stays possible.
		if len(refs) > 1 {
			b.Name = ref
		}
		if b.Region == "" {
			b.Region = prov.DefaultRegion
		}
		if b.Account == "" {
			b.Account = prov.Accounts[env]
		}
		if b.ResourceGroup == "" {
			b.ResourceGroup = prov.ResourceGroups[env]
		}
		if b.Project == "" {
			b.Project = prov.Projects[env]
		}
		out = append(out, b)
	}
	return out, nil
}
