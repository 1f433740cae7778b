package config

// CatalogConfig locates the declarative resource catalog and policy documents.
type CatalogConfig struct {
	DomainsPath   string `mapstructure:"domains_path"   validate:"required"`
	ProvidersPath string `mapstructure:"providers_path"`
	PoliciesPath  string `mapstructure:"policies_path"  validate:"required"`

	// Watch enables live reload when any of the documents change on disk.
	Watch bool `mapstructure:"watch"`
}
