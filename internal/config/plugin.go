// Package config loads the ingestion plugin file and the stream service environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/viper"

	"heimdall/internal/cdc"
	"heimdall/internal/solana"
)

// DefaultMaxConnections is the pool size used when the file does not set one.
const DefaultMaxConnections = 5

var errMissingDatabaseURL = errors.New("database_url is required")

// pluginFile mirrors the JSON document on disk.
type pluginFile struct {
	DatabaseURL    string   `mapstructure:"database_url"`
	Programs       []string `mapstructure:"programs"`
	TrackedUsers   []string `mapstructure:"tracked_users"`
	ClickhouseURL  string   `mapstructure:"clickhouse_url"`
	MaxConnections int      `mapstructure:"max_connections"`
}

// WatchConfig holds the watch-lists. It is immutable after loading.
type WatchConfig struct {
	Programs     mapset.Set[solana.PublicKey]
	TrackedUsers mapset.Set[solana.PublicKey]
}

// NewWatchConfig builds a WatchConfig from key slices.
func NewWatchConfig(programs, users []solana.PublicKey) WatchConfig {
	return WatchConfig{
		Programs:     mapset.NewThreadUnsafeSet(programs...),
		TrackedUsers: mapset.NewThreadUnsafeSet(users...),
	}
}

// IsTrackedProgram reports whether owner is a tracked program.
func (w WatchConfig) IsTrackedProgram(owner solana.PublicKey) bool {
	return w.Programs != nil && w.Programs.ContainsOne(owner)
}

// IsTrackedUser reports whether address is a tracked user.
func (w WatchConfig) IsTrackedUser(address solana.PublicKey) bool {
	return w.TrackedUsers != nil && w.TrackedUsers.ContainsOne(address)
}

// UserList returns the tracked users in byte order.
func (w WatchConfig) UserList() []solana.PublicKey {
	return sortedKeys(w.TrackedUsers)
}

// ProgramList returns the tracked programs in byte order.
func (w WatchConfig) ProgramList() []solana.PublicKey {
	return sortedKeys(w.Programs)
}

func sortedKeys(set mapset.Set[solana.PublicKey]) []solana.PublicKey {
	if set == nil {
		return nil
	}
	keys := set.ToSlice()
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// Plugin is the validated ingestion plugin configuration.
type Plugin struct {
	DatabaseURL    string
	ClickhouseURL  string
	MaxConnections int
	Watch          WatchConfig
}

// OffCurveUsers returns tracked users that are not valid ed25519 points.
// Such addresses are program-derived and never sign, which usually means a
// misconfigured watch-list.
func (p *Plugin) OffCurveUsers() []solana.PublicKey {
	var out []solana.PublicKey
	for _, u := range p.Watch.UserList() {
		if !u.IsOnCurve() {
			out = append(out, u)
		}
	}
	return out
}

// LoadPlugin reads the JSON configuration file at path.
// Every failure is a cdc.ErrConfig.
func LoadPlugin(path string) (*Plugin, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("max_connections", DefaultMaxConnections)

	if err := v.ReadInConfig(); err != nil {
		return nil, cdc.New(cdc.KindConfig, path, fmt.Errorf("read config: %w", err))
	}

	var raw pluginFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, cdc.New(cdc.KindConfig, path, fmt.Errorf("decode config: %w", err))
	}

	cfg, err := raw.validate()
	if err != nil {
		return nil, cdc.New(cdc.KindConfig, path, err)
	}
	return cfg, nil
}

func (f pluginFile) validate() (*Plugin, error) {
	if f.DatabaseURL == "" {
		return nil, errMissingDatabaseURL
	}
	if f.MaxConnections <= 0 {
		return nil, fmt.Errorf("max_connections must be positive, got %d", f.MaxConnections)
	}

	programs, err := parseKeys("programs", f.Programs)
	if err != nil {
		return nil, err
	}
	users, err := parseKeys("tracked_users", f.TrackedUsers)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		DatabaseURL:    f.DatabaseURL,
		ClickhouseURL:  f.ClickhouseURL,
		MaxConnections: f.MaxConnections,
		Watch:          NewWatchConfig(programs, users),
	}, nil
}

func parseKeys(field string, values []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(values))
	for i, s := range values {
		pk, err := solana.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, pk)
	}
	return out, nil
}
