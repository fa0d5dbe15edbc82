// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/stockparfait/errors"
)

// Supported database drivers.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Environment variables of the store configuration.
const (
	EnvDriver   = "DB_DRIVER"
	EnvUser     = "DB_USER"
	EnvPassword = "DB_PASSWORD"
	EnvHost     = "DB_HOST"
	EnvPort     = "DB_PORT"
	EnvName     = "DB_NAME"
	EnvSSLMode  = "DB_SSLMODE"
)

// Config of the relational store. Credentials and the host have no defaults.
type Config struct {
	Driver   string // Postgres or MySQL
	User     string
	Password string
	Host     string
	Port     int
	Name     string // database name
	SSLMode  string // in the postgres terms: disable, require, verify-full, etc.
}

// ConfigFromEnv reads the configuration from the environment variables.
func ConfigFromEnv() (*Config, error) {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}
	c := &Config{
		Driver:   strings.ToLower(get(EnvDriver, Postgres)),
		User:     get(EnvUser, ""),
		Password: get(EnvPassword, ""),
		Host:     get(EnvHost, ""),
		Name:     get(EnvName, "postgres"),
		SSLMode:  get(EnvSSLMode, "require"),
	}
	var missing []string
	for _, kv := range []struct{ key, value string }{
		{EnvUser, c.User}, {EnvPassword, c.Password}, {EnvHost, c.Host},
	} {
		if kv.value == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Reason("missing environment variables: %s",
			strings.Join(missing, ", "))
	}
	switch c.Driver {
	case Postgres:
		c.Port = 5432
	case MySQL:
		c.Port = 3306
	default:
		return nil, errors.Reason("%s must be %s or %s, got %q",
			EnvDriver, Postgres, MySQL, c.Driver)
	}
	if p := get(EnvPort, ""); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, errors.Reason("invalid %s: %q", EnvPort, p)
		}
		c.Port = port
	}
	return c, nil
}

// Addr is the "host:port" address of the server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String representation without the password, for logging.
func (c *Config) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", c.Driver, c.User, c.Addr(), c.Name)
}

// DriverName is the database/sql driver to open.
func (c *Config) DriverName() string {
	if c.Driver == MySQL {
		return "mysql"
	}
	return "pgx"
}

var mysqlTLS = map[string]string{
	"disable":     "false",
	"allow":       "preferred",
	"prefer":      "preferred",
	"require":     "skip-verify",
	"verify-ca":   "true",
	"verify-full": "true",
}

// DSN is the data source name for sql.Open.
func (c *Config) DSN() string {
	if c.Driver == MySQL {
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = c.Addr()
		mc.DBName = c.Name
		if tls, ok := mysqlTLS[c.SSLMode]; ok {
			mc.TLSConfig = tls
		}
		return mc.FormatDSN()
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Addr(),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}
