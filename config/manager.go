package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Manager drives one backend through the load sequence: defaults, file,
// environment, unmarshal, struct defaults, validation.
type Manager struct {
	backend    Backend
	fileName   string
	fileType   string
	envPrefix  string
	configFile string
}

// NewWithBackend returns a Manager over the given backend. Panics on a nil
// backend: there is no useful zero-source manager.
func NewWithBackend(backend Backend, opts ...Option) *Manager {
	if backend == nil {
		panic("config: backend cannot be nil")
	}
	m := &Manager{
		backend:  backend,
		fileName: "config",
		fileType: "json",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend exposes the underlying backend, mainly so the catalog watcher can
// subscribe to its change notifications.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Load configures the backend and reads the document. A file that simply
// does not exist in the search locations is tolerated — the host can run on
// defaults and environment alone — but an explicitly named file must exist,
// and a file that exists but cannot be parsed is always an error.
func (m *Manager) Load() error {
	if m.configFile != "" {
		m.backend.SetConfigFile(m.configFile)
	} else {
		m.backend.SetConfigName(m.fileName)
		m.backend.SetConfigType(m.fileType)
		m.backend.AddConfigPath(".")
	}

	if m.envPrefix != "" {
		if eb, ok := m.backend.(EnvBinder); ok {
			eb.SetEnvPrefix(m.envPrefix)
			eb.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
			eb.AutomaticEnv()
		}
	}

	if err := m.backend.ReadInConfig(); err != nil {
		missing := false
		if r, ok := m.backend.(MissingFileReporter); ok {
			missing = r.IsConfigFileNotFoundError(err)
		}
		if !missing || m.configFile != "" {
			return fmt.Errorf("config: read %s: %w", m.describeSource(), err)
		}
	}
	return nil
}

// LoadInto runs the full sequence and leaves target ready to use: loaded,
// defaulted via the Defaulter interface, and validated against its struct
// tags.
func (m *Manager) LoadInto(target any) error {
	if m.envPrefix != "" {
		if eb, ok := m.backend.(EnvBinder); ok {
			bindEnvKeys(eb, target, "")
		}
	}

	if err := m.Load(); err != nil {
		return err
	}
	if err := m.backend.Unmarshal(target); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	if d, ok := target.(Defaulter); ok {
		d.Default()
	}
	return ValidateStruct(target)
}

func (m *Manager) describeSource() string {
	if m.configFile != "" {
		return m.configFile
	}
	return m.fileName + "." + m.fileType
}

// bindEnvKeys walks target's mapstructure tags and binds every leaf key, so
// AutomaticEnv can surface overrides for keys the file never mentions.
// Without this, viper's automatic binding only sees keys it has already
// read from somewhere.
func bindEnvKeys(eb EnvBinder, target any, prefix string) {
	val := reflect.ValueOf(target)
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	t := val.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Name
		if tag, ok := field.Tag.Lookup("mapstructure"); ok {
			if head, _, _ := strings.Cut(tag, ","); head != "" && head != "-" {
				name = head
			}
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		if field.Type.Kind() == reflect.Struct {
			bindEnvKeys(eb, reflect.New(field.Type).Interface(), key)
			continue
		}
		_ = eb.BindEnv(key)
	}
}
