package trustplane

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	configYAML []byte
}

// WithConfigFile sets the path to a kernel config YAML file. Empty means
// the default location; a missing file means built-in defaults.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithConfigYAML supplies the kernel config as raw YAML bytes, taking
// precedence over WithConfigFile. Useful for tests and embedders that
// manage configuration themselves.
func WithConfigYAML(data []byte) Option {
	return func(c *clientConfig) { c.configYAML = data }
}

// GuardOption configures a single Guard binding.
type GuardOption func(*guardConfig)

type guardConfig struct {
	role   string
	tier   string
	domain string
}

// GuardWithRole sets the role used when a request does not declare one.
func GuardWithRole(role string) GuardOption {
	return func(g *guardConfig) { g.role = role }
}

// GuardWithTier sets the requested tier used when a request does not
// declare one. The trust band still caps it.
func GuardWithTier(tier string) GuardOption {
	return func(g *guardConfig) { g.tier = tier }
}

// GuardWithDomain sets the domain used when a request does not declare one.
func GuardWithDomain(domain string) GuardOption {
	return func(g *guardConfig) { g.domain = domain }
}
