// Package viper adapts spf13/viper to the config.Backend interface. It is
// the only package that knows the config document is a file on disk, and
// the only importer of fsnotify, whose events viper's watcher delivers.
package viper

import (
	"errors"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/petabytecl/cronhost/config"
)

// Backend wraps a dedicated viper instance. A fresh instance per Backend
// keeps the host clear of viper's package-level global.
type Backend struct {
	v *viper.Viper
}

// New returns a Backend over a new viper instance.
func New() *Backend {
	return &Backend{v: viper.New()}
}

func (b *Backend) SetConfigFile(path string) {
	b.v.SetConfigFile(path)
}

func (b *Backend) SetConfigName(name string) {
	b.v.SetConfigName(name)
}

func (b *Backend) SetConfigType(fileType string) {
	b.v.SetConfigType(fileType)
}

func (b *Backend) AddConfigPath(path string) {
	b.v.AddConfigPath(path)
}

func (b *Backend) SetDefault(key string, value any) {
	b.v.SetDefault(key, value)
}

func (b *Backend) ReadInConfig() error {
	return b.v.ReadInConfig()
}

func (b *Backend) Unmarshal(target any) error {
	return b.v.Unmarshal(target)
}

// WatchConfig starts watching the resolved config file; viper debounces
// nothing, so the catalog watcher adds its own window on top.
func (b *Backend) WatchConfig() {
	b.v.WatchConfig()
}

// OnConfigChange forwards viper's fsnotify events, erased to any per the
// config.Watcher contract.
func (b *Backend) OnConfigChange(callback func(event any)) {
	b.v.OnConfigChange(func(e fsnotify.Event) {
		callback(e)
	})
}

func (b *Backend) SetEnvPrefix(prefix string) {
	b.v.SetEnvPrefix(prefix)
}

// SetEnvKeyReplacer narrows to *strings.Replacer because that is all
// viper's instance API accepts; the Manager only ever hands one over.
func (b *Backend) SetEnvKeyReplacer(replacer config.StringReplacer) {
	if r, ok := replacer.(*strings.Replacer); ok {
		b.v.SetEnvKeyReplacer(r)
	}
}

func (b *Backend) AutomaticEnv() {
	b.v.AutomaticEnv()
}

func (b *Backend) BindEnv(keys ...string) error {
	return b.v.BindEnv(keys...)
}

// IsConfigFileNotFoundError implements config.MissingFileReporter.
func (b *Backend) IsConfigFileNotFoundError(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}
