package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

// Resolver maps logical (service, environment, class) coordinates onto
// concrete provider bindings. Every lookup runs against a single catalog
// snapshot, so a concurrent reload can never produce a torn result.
type Resolver struct {
	source domain.CatalogSource
}

// NewResolver returns a resolver over the given catalog source.
func NewResolver(source domain.CatalogSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve finds the binding for a service in an environment. Class defaults
// to compute. bindingName selects among multiple bindings of the same class;
// leaving it empty when several exist is an error that names the candidates.
func (r *Resolver) Resolve(service, environment string, class domain.ResourceClass, bindingName string) (domain.ResourceBinding, error) {
	snap := r.source.Snapshot()
	if class == "" {
		class = domain.ResourceClassCompute
	}

	svc, ok := snap.Services[service]
	if !ok {
		return domain.ResourceBinding{}, fmt.Errorf("%w: %q (known services: %s)",
			apperrors.ErrUnknownService, service, joinSorted(serviceNames(snap)))
	}

	bindings, ok := svc.Environments[environment]
	if !ok {
		return domain.ResourceBinding{}, fmt.Errorf("%w: %q for service %q (known environments: %s)",
			apperrors.ErrUnknownEnvironment, environment, service, joinSorted(environmentNames(svc)))
	}

	matches := make([]domain.ResourceBinding, 0, 1)
	for _, b := range bindings {
		if b.Class == class {
			matches = append(matches, b)
		}
	}
	if len(matches) == 0 {
		return domain.ResourceBinding{}, fmt.Errorf("%w: no %s binding for %s/%s (available classes: %s)",
			apperrors.ErrResourceNotFound, class, service, environment, joinSorted(classNames(bindings)))
	}

	if bindingName != "" {
		for _, b := range matches {
			if b.Name == bindingName {
				return b, nil
			}
		}
		return domain.ResourceBinding{}, fmt.Errorf("%w: no %s binding named %q for %s/%s (bindings: %s)",
			apperrors.ErrResourceNotFound, class, bindingName, service, environment, joinSorted(bindingNames(matches)))
	}

	if len(matches) > 1 {
		return domain.ResourceBinding{}, fmt.Errorf("%w: %s/%s has %d %s bindings, pick one of: %s",
			apperrors.ErrAmbiguousBinding, service, environment, len(matches), class, joinSorted(bindingNames(matches)))
	}

	return matches[0], nil
}

// ResolveForLogs finds the binding whose log group backs a log query. It
// prefers a compute binding carrying an explicit log_group attribute and
// falls back to any compute binding plus the conventional group name.
func (r *Resolver) ResolveForLogs(service, environment, bindingName string) (domain.ResourceBinding, string, error) {
	binding, err := r.Resolve(service, environment, domain.ResourceClassCompute, bindingName)
	if err != nil {
		return domain.ResourceBinding{}, "", err
	}
	group := binding.LogGroup()
	if group == "" {
		group = fmt.Sprintf("/aws/service/%s", service)
	}
	return binding, group, nil
}

// Bindings returns every binding for a service in an environment, in
// catalog order. The returned slice is a copy.
func (r *Resolver) Bindings(service, environment string) ([]domain.ResourceBinding, error) {
	snap := r.source.Snapshot()

	svc, ok := snap.Services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known services: %s)",
			apperrors.ErrUnknownService, service, joinSorted(serviceNames(snap)))
	}
	bindings, ok := svc.Environments[environment]
	if !ok {
		return nil, fmt.Errorf("%w: %q for service %q (known environments: %s)",
			apperrors.ErrUnknownEnvironment, environment, service, joinSorted(environmentNames(svc)))
	}
	return append([]domain.ResourceBinding(nil), bindings...), nil
}

// FindByRef is the reverse lookup from a provider resource id back to its
// logical coordinates.
func (r *Resolver) FindByRef(provider, ref string) (domain.ResourceBinding, bool) {
	snap := r.source.Snapshot()
	for _, svc := range snap.Services {
		for _, bindings := range svc.Environments {
			for _, b := range bindings {
				if b.Provider == provider && b.Ref == ref {
					return b, true
				}
			}
		}
	}
	return domain.ResourceBinding{}, false
}

// ServiceEntry is one (service, environment) row in a catalog listing.
type ServiceEntry struct {
	Service     string
	Environment string
	Tier        domain.TrustTier
	Classes     []domain.ResourceClass
	Providers   []string
}

// ListServices enumerates the catalog, optionally filtered to one
// environment. Results are sorted by service then environment.
func (r *Resolver) ListServices(environment string) []ServiceEntry {
	snap := r.source.Snapshot()

	var out []ServiceEntry
	for _, svc := range snap.Services {
		for envName, bindings := range svc.Environments {
			if environment != "" && envName != environment {
				continue
			}
			out = append(out, ServiceEntry{
				Service:     svc.Name,
				Environment: envName,
				Tier:        snap.Tier(envName),
				Classes:     sortedClasses(bindings),
				Providers:   sortedProviders(bindings),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Environment < out[j].Environment
	})
	return out
}

// ListEnvironments lists the environments one service is bound in.
func (r *Resolver) ListEnvironments(service string) ([]ServiceEntry, error) {
	snap := r.source.Snapshot()
	svc, ok := snap.Services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known services: %s)",
			apperrors.ErrUnknownService, service, joinSorted(serviceNames(snap)))
	}

	out := make([]ServiceEntry, 0, len(svc.Environments))
	for envName, bindings := range svc.Environments {
		out = append(out, ServiceEntry{
			Service:     svc.Name,
			Environment: envName,
			Tier:        snap.Tier(envName),
			Classes:     sortedClasses(bindings),
			Providers:   sortedProviders(bindings),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Environment < out[j].Environment })
	return out, nil
}

func serviceNames(snap *domain.CatalogSnapshot) []string {
	names := make([]string, 0, len(snap.Services))
	for name := range snap.Services {
		names = append(names, name)
	}
	return names
}

func environmentNames(svc *domain.ServiceDomain) []string {
	names := make([]string, 0, len(svc.Environments))
	for name := range svc.Environments {
		names = append(names, name)
	}
	return names
}

func classNames(bindings []domain.ResourceBinding) []string {
	seen := make(map[string]bool, len(bindings))
	var names []string
	for _, b := range bindings {
		if !seen[string(b.Class)] {
			seen[string(b.Class)] = true
			names = append(names, string(b.Class))
		}
	}
	return names
}

func bindingNames(bindings []domain.ResourceBinding) []string {
	names := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if b.Name != "" {
			names = append(names, b.Name)
		}
	}
	return names
}

func sortedClasses(bindings []domain.ResourceBinding) []domain.ResourceClass {
	names := classNames(bindings)
	sort.Strings(names)
	out := make([]domain.ResourceClass, len(names))
	for i, n := range names {
		out[i] = domain.ResourceClass(n)
	}
	return out
}

func sortedProviders(bindings []domain.ResourceBinding) []string {
	seen := make(map[string]bool, len(bindings))
	var names []string
	for _, b := range bindings {
		if !seen[b.Provider] {
			seen[b.Provider] = true
			names = append(names, b.Provider)
		}
	}
	sort.Strings(names)
	return names
}

func joinSorted(names []string) string {
	sort.Strings(names)
	return strings.Join(names, ", ")
}
