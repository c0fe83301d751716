// Package config loads the host's configuration document: defaults, then
// the JSON file, then CRONHOST_-prefixed environment overrides, unmarshaled
// into a typed struct and checked with validator tags. The source sits
// behind a small Backend interface; the viper subpackage is the shipped
// implementation and the only place fsnotify and file formats live.
package config

// Backend is the configuration source. Keys use dot notation
// ("scheduler.pollseconds").
type Backend interface {
	// SetConfigFile pins an exact file to read, bypassing name/type/path
	// search.
	SetConfigFile(path string)

	// SetConfigName, SetConfigType, and AddConfigPath describe the search
	// performed when no explicit file is set.
	SetConfigName(name string)
	SetConfigType(fileType string)
	AddConfigPath(path string)

	// SetDefault seeds a value that file and environment may override.
	SetDefault(key string, value any)

	// ReadInConfig loads the document from disk.
	ReadInConfig() error

	// Unmarshal decodes the merged view into target.
	Unmarshal(target any) error
}

// Watcher is implemented by backends that can watch the config source. The
// event payload is typed any so the file-watching library stays an
// implementation detail; the catalog watcher only cares that something
// changed.
type Watcher interface {
	WatchConfig()
	OnConfigChange(callback func(event any))
}

// EnvBinder is implemented by backends supporting environment-variable
// overrides.
type EnvBinder interface {
	SetEnvPrefix(prefix string)
	SetEnvKeyReplacer(replacer StringReplacer)
	AutomaticEnv()
	BindEnv(keys ...string) error
}

// StringReplacer maps config keys to environment names; satisfied by
// strings.Replacer.
type StringReplacer interface {
	Replace(s string) string
}

// MissingFileReporter distinguishes "no config file found" (tolerable when
// searching default locations) from a real read failure.
type MissingFileReporter interface {
	IsConfigFileNotFoundError(err error) bool
}

// Defaulter lets a config struct fill its own defaults after unmarshaling
// and before validation. AppConfig implements it.
type Defaulter interface {
	Default()
}
