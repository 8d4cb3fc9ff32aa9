package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The gateway uses
// it to decide whether providers must be rebuilt on reload.
type ConfigDiff struct {
	ProviderChanges []ProviderDiff

	DefaultChanged  bool
	FallbackChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when a field that cannot be hot-applied
	// changed, such as the listen address or the MCP server list.
	RestartRequired bool
}

// ProvidersChanged reports whether any provider entry was added, removed or
// modified.
func (d ConfigDiff) ProvidersChanged() bool { return len(d.ProviderChanges) > 0 }

// RebuildRequired reports whether the provider set must be recreated.
func (d ConfigDiff) RebuildRequired() bool {
	return d.ProvidersChanged() || d.DefaultChanged || d.FallbackChanged
}

// ProviderDiff describes what changed for one provider entry.
type ProviderDiff struct {
	Name         string
	Added        bool
	Removed      bool
	ModelChanged bool
	// CredentialsChanged covers api_key, base_url and organization.
	CredentialsChanged bool
	OtherChanged       bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Server.MetricsPath != new.Server.MetricsPath ||
		!reflect.DeepEqual(old.MCP, new.MCP) ||
		old.Usage != new.Usage {
		d.RestartRequired = true
	}
	d.DefaultChanged = old.DefaultProviderName() != new.DefaultProviderName()
	d.FallbackChanged = !slices.Equal(old.Fallback, new.Fallback)

	oldByName := make(map[string]ProviderEntry, len(old.Providers))
	for _, p := range old.Providers {
		oldByName[p.Name] = p
	}
	newByName := make(map[string]ProviderEntry, len(new.Providers))
	for _, p := range new.Providers {
		newByName[p.Name] = p
	}

	for _, name := range slices.Sorted(maps.Keys(oldByName)) {
		np, ok := newByName[name]
		if !ok {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Removed: true})
			continue
		}
		if pd := diffProvider(oldByName[name], np); pd.ModelChanged || pd.CredentialsChanged || pd.OtherChanged {
			d.ProviderChanges = append(d.ProviderChanges, pd)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(newByName)) {
		if _, ok := oldByName[name]; !ok {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Added: true})
		}
	}
	return d
}

func diffProvider(old, new ProviderEntry) ProviderDiff {
	pd := ProviderDiff{Name: old.Name}
	pd.ModelChanged = old.ModelName() != new.ModelName()
	pd.CredentialsChanged = old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Organization != new.Organization
	pd.OtherChanged = old.Type != new.Type ||
		old.Timeout != new.Timeout ||
		old.Backend != new.Backend ||
		!reflect.DeepEqual(old.Local, new.Local) ||
		!reflect.DeepEqual(old.Options, new.Options)
	return pd
}
