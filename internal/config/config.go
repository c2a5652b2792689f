// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process settings from the environment and the plant
// layout (areas and main lines) from a YAML file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/umh-utils/env"
)

type JobConfig struct {
	Enabled  bool
	Schedule string
}

type SourceConfig struct {
	URLs         []string
	User         string
	Password     string
	ProbeTimeout time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnString returns the libpq style connection string used by pgxpool.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type MQTTConfig struct {
	BrokerURL   string
	TopicPrefix string
	Username    string
	Password    string
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

type Config struct {
	LoggingLevel string
	Location     *time.Location
	WindowMode   shift.Mode

	AreaSync    JobConfig
	Transfer    JobConfig
	TagTransfer JobConfig
	PM          JobConfig
	Monitor     JobConfig

	WorkerPoolSize  int
	ShutdownTimeout time.Duration

	Source   SourceConfig
	Postgres PostgresConfig
	MQTT     MQTTConfig

	AreasFile string
	Plant     Plant

	HTTPPort            int
	MetricsAddr         string
	HealthcheckAddr     string
	WorkOrderAPIEnabled bool
}

// Load reads every setting from the environment and the plant layout from
// AREAS_CONFIG_FILE. Errors from all variables are collected.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c := &Config{}
	var err error

	c.LoggingLevel, err = env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION")
	collect(err)

	tz, err := env.GetAsString("APP_TIMEZONE", false, "Europe/Moscow")
	collect(err)
	c.Location, err = time.LoadLocation(tz)
	if err != nil {
		collect(fmt.Errorf("APP_TIMEZONE %q: %w", tz, err))
		c.Location = time.UTC
	}

	mode, err := env.GetAsString("WINDOW_MODE", false, string(shift.ModeProductionDay))
	collect(err)
	c.WindowMode = shift.Mode(mode)
	if c.WindowMode != shift.ModeProductionDay && c.WindowMode != shift.ModeShift {
		collect(fmt.Errorf("WINDOW_MODE must be %q or %q, got %q", shift.ModeProductionDay, shift.ModeShift, mode))
	}

	c.AreaSync = loadJob("SYNC", "0 */3 * * * ?", collect)
	c.Transfer = loadJob("TRANSFER", "0 0 8 * * *", collect)
	c.TagTransfer = loadJob("TAG_TRANSFER", "0 5 8 * * *", collect)
	c.PM = loadJob("PM", "0 0 6 * * *", collect)
	c.Monitor.Enabled = true
	c.Monitor.Schedule, err = env.GetAsString("MONITOR_SCHEDULE", false, "0 10 8 * * *")
	collect(err)

	c.WorkerPoolSize, err = env.GetAsInt("WORKER_POOL_SIZE", false, 5)
	collect(err)
	timeout, err := env.GetAsInt("SHUTDOWN_TIMEOUT_SECONDS", false, 60)
	collect(err)
	c.ShutdownTimeout = time.Duration(timeout) * time.Second

	collect(env.GetAsType("SOURCE_URLS", &c.Source.URLs, true, []string{}))
	c.Source.User, err = env.GetAsString("SOURCE_USER", true, "")
	collect(err)
	c.Source.Password, err = env.GetAsString("SOURCE_PASSWORD", true, "")
	collect(err)
	probe, err := env.GetAsInt("SOURCE_PROBE_TIMEOUT_MS", false, 2000)
	collect(err)
	c.Source.ProbeTimeout = time.Duration(probe) * time.Millisecond

	c.Postgres.Host, err = env.GetAsString("POSTGRES_HOST", false, "db")
	collect(err)
	c.Postgres.Port, err = env.GetAsInt("POSTGRES_PORT", false, 5432)
	collect(err)
	c.Postgres.User, err = env.GetAsString("POSTGRES_USER", true, "")
	collect(err)
	c.Postgres.Password, err = env.GetAsString("POSTGRES_PASSWORD", true, "")
	collect(err)
	c.Postgres.Database, err = env.GetAsString("POSTGRES_DATABASE", true, "")
	collect(err)
	c.Postgres.SSLMode, err = env.GetAsString("POSTGRES_SSL_MODE", false, "require")
	collect(err)

	c.MQTT.BrokerURL, err = env.GetAsString("MQTT_BROKER_URL", false, "")
	collect(err)
	c.MQTT.TopicPrefix, err = env.GetAsString("MQTT_TOPIC_PREFIX", false, "umh/v1/maintenance")
	collect(err)
	c.MQTT.Username, err = env.GetAsString("MQTT_USERNAME", false, "maintenance-sync")
	collect(err)
	c.MQTT.Password, err = env.GetAsString("MQTT_PASSWORD", false, "")
	collect(err)

	c.HTTPPort, err = env.GetAsInt("HTTP_PORT", false, 8080)
	collect(err)
	c.MetricsAddr, err = env.GetAsString("METRICS_PORT", false, ":2112")
	collect(err)
	hcPort, err := env.GetAsInt("HEALTHCHECK_PORT", false, 8086)
	collect(err)
	c.HealthcheckAddr = fmt.Sprintf("0.0.0.0:%d", hcPort)
	c.WorkOrderAPIEnabled, err = env.GetAsBool("WORKORDER_API_ENABLED", false, false)
	collect(err)

	c.AreasFile, err = env.GetAsString("AREAS_CONFIG_FILE", false, "/config/areas.yaml")
	collect(err)
	if len(errs) == 0 {
		c.Plant, err = LoadPlant(c.AreasFile)
		collect(err)
	}

	if err = c.validate(); err != nil {
		collect(err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func loadJob(prefix, schedule string, collect func(error)) JobConfig {
	var j JobConfig
	var err error
	j.Enabled, err = env.GetAsBool(prefix+"_ENABLED", false, true)
	collect(err)
	j.Schedule, err = env.GetAsString(prefix+"_SCHEDULE", false, schedule)
	collect(err)
	return j
}

func (c *Config) validate() error {
	var errs []error
	if len(c.Source.URLs) == 0 {
		errs = append(errs, errors.New("SOURCE_URLS must contain at least one URL"))
	}
	if c.WorkerPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be positive"))
	}
	if c.Source.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("SOURCE_PROBE_TIMEOUT_MS must be positive"))
	}
	return errors.Join(errs...)
}
