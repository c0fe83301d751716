package config

// Option configures a Manager.
type Option func(*Manager)

// WithName sets the file name (without extension) searched when no explicit
// file is given. Default "config".
func WithName(name string) Option {
	return func(m *Manager) {
		m.fileName = name
	}
}

// WithType sets the document format searched for. Default "json".
func WithType(fileType string) Option {
	return func(m *Manager) {
		m.fileType = fileType
	}
}

// WithEnvPrefix enables environment overrides: with prefix "CRONHOST", the
// key "scheduler.pollseconds" is overridable via
// CRONHOST_SCHEDULER__POLLSECONDS.
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.envPrefix = prefix
	}
}

// WithConfigFile pins an exact file path; the name/type search is skipped
// and a missing file becomes a hard error.
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}
