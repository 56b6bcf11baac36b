// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/mongoconf/internal/configstore"
	"github.com/cardinalhq/mongoconf/internal/docstore"
	"github.com/cardinalhq/mongoconf/internal/keypath"
	"github.com/cardinalhq/mongoconf/internal/mongostore"
	"github.com/cardinalhq/mongoconf/internal/pgstore"
	"github.com/cardinalhq/mongoconf/internal/savequeue"
)

// memoryStore backs every store opened with the memory driver in this
// process.
var memoryStore = docstore.NewMemoryStore()

const (
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every option of the configuration store and its backend.
type Config struct {
	Driver      string `mapstructure:"driver"`
	Namespace   string `mapstructure:"namespace"`
	App         string `mapstructure:"app"`
	TTL         int64  `mapstructure:"ttl"` // milliseconds, 0 disables refresh
	Delimiter   string `mapstructure:"delimiter"`
	Concurrency int    `mapstructure:"concurrency"`

	Host       string     `mapstructure:"host"`
	Port       int        `mapstructure:"port"`
	DB         string     `mapstructure:"db"`
	Collection string     `mapstructure:"collection"`
	Auth       AuthConfig `mapstructure:"auth"`

	SafeDBs         bool          `mapstructure:"safe_dbs"`
	SafeCollections bool          `mapstructure:"safe_collections"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`

	Postgres PostgresConfig `mapstructure:"postgres"`
}

type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Source   string `mapstructure:"source"`
}

type PostgresConfig struct {
	URL     string `mapstructure:"url"`
	SSLMode string `mapstructure:"sslmode"`
}

func DefaultConfig() *Config {
	mongo := mongostore.DefaultConfig()
	return &Config{
		Driver:          DriverMongoDB,
		Namespace:       "mongodb",
		App:             "general",
		TTL:             time.Hour.Milliseconds(),
		Delimiter:       keypath.DefaultDelimiter,
		Concurrency:     savequeue.DefaultConcurrency,
		Host:            mongo.Host,
		Port:            mongo.Port,
		DB:              mongo.Database,
		Collection:      mongo.Collection,
		SafeDBs:         mongo.SafeDBs,
		SafeCollections: mongo.SafeCollections,
		PoolSize:        int(mongo.PoolSize),
		ConnectTimeout:  mongo.ConnectTimeout,
	}
}

// Load reads configuration from a file and environment variables.
// Environment variables use the prefix "MONGOCONF" and the dot character
// in keys is replaced by an underscore. For example, "auth.username" becomes
// "MONGOCONF_AUTH_USERNAME". When path is empty, an optional mongoconf.yaml
// in the working directory is read.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mongoconf")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("MONGOCONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverMongoDB, DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("ttl must not be negative, got %d", c.TTL))
	}
	if c.App == "" {
		errs = append(errs, errors.New("app is required"))
	}
	if c.Delimiter == "" {
		errs = append(errs, errors.New("delimiter is required"))
	}
	if c.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StoreOptions returns the configstore options for c.
func (c *Config) StoreOptions() configstore.Options {
	return configstore.Options{
		Namespace:   c.Namespace,
		App:         c.App,
		Delimiter:   c.Delimiter,
		TTL:         time.Duration(c.TTL) * time.Millisecond,
		Concurrency: c.Concurrency,
	}
}

func (c *Config) MongoConfig() mongostore.Config {
	return mongostore.Config{
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.DB,
		Collection:      c.Collection,
		Username:        c.Auth.Username,
		Password:        c.Auth.Password,
		AuthSource:      c.Auth.Source,
		SafeDBs:         c.SafeDBs,
		SafeCollections: c.SafeCollections,
		PoolSize:        uint64(c.PoolSize),
		ConnectTimeout:  c.ConnectTimeout,
	}
}

// PostgresConfig maps the shared connection options onto PostgreSQL. The
// MongoDB default port is replaced by PostgreSQL's.
func (c *Config) PostgresConfig() pgstore.Config {
	cfg := pgstore.DefaultConfig()
	cfg.URL = c.Postgres.URL
	cfg.SSLMode = c.Postgres.SSLMode
	cfg.Host = c.Host
	if c.Port != 0 && c.Port != mongostore.DefaultConfig().Port {
		cfg.Port = c.Port
	}
	cfg.Database = c.DB
	cfg.Table = c.Collection
	cfg.Username = c.Auth.Username
	cfg.Password = c.Auth.Password
	cfg.MaxConns = int32(c.PoolSize)
	cfg.ConnectTimeout = c.ConnectTimeout
	return cfg
}

// Connector returns the docstore.Connector for the configured driver.
func (c *Config) Connector() (docstore.Connector, error) {
	switch c.Driver {
	case DriverMongoDB:
		return mongostore.Connector(c.MongoConfig()), nil
	case DriverPostgres:
		return pgstore.Connector(c.PostgresConfig()), nil
	case DriverMemory:
		return memoryStore.Connector(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", c.Driver)
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
