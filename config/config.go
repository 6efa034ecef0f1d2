/*
Copyright 2025 Dfewatch Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	EnvironmentHomologation = "homologation"
	EnvironmentProduction   = "production"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SecretKey string `json:"secret_key" envconfig:"DFEWATCH_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"DFEWATCH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DFEWATCH_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"DFEWATCH_REDIS_DNS"`
}

// SefazConfig selects the tax-authority environment and transport limits.
// Environment must be one of "homologation" or "production"; it picks the
// base URL set the protocol client talks to.
type SefazConfig struct {
	Environment string `json:"environment" envconfig:"DFEWATCH_SEFAZ_ENVIRONMENT"`
	TimeoutSec  int    `json:"timeout_sec" envconfig:"DFEWATCH_SEFAZ_TIMEOUT_SEC"`
	CertPath    string `json:"cert_path" envconfig:"DFEWATCH_SEFAZ_CERT_PATH"`
}

// Timeout returns the authority transport timeout as a duration.
func (s SefazConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// WebhookConfig drives the delivery worker: RetryDelays is an ordered
// comma-separated list of seconds applied per attempt, FailureThreshold is
// the consecutive-failure count at which a webhook is disabled.
type WebhookConfig struct {
	RetryDelays      string `json:"retry_delays" envconfig:"DFEWATCH_WEBHOOK_RETRY_DELAYS"`
	FailureThreshold int    `json:"failure_threshold" envconfig:"DFEWATCH_WEBHOOK_FAILURE_THRESHOLD"`
	TimeoutSec       int    `json:"timeout_sec" envconfig:"DFEWATCH_WEBHOOK_TIMEOUT_SEC"`
	BatchSize        int    `json:"batch_size" envconfig:"DFEWATCH_WEBHOOK_BATCH_SIZE"`
}

// Timeout returns the per-attempt delivery timeout as a duration.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSec) * time.Second
}

type QueueConfig struct {
	SyncQueue     string `json:"sync_queue" envconfig:"DFEWATCH_QUEUE_SYNC"`
	WebhookQueue  string `json:"webhook_queue" envconfig:"DFEWATCH_QUEUE_WEBHOOK"`
	SyncInterval  string `json:"sync_interval" envconfig:"DFEWATCH_QUEUE_SYNC_INTERVAL"`
	FlushInterval string `json:"flush_interval" envconfig:"DFEWATCH_QUEUE_FLUSH_INTERVAL"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName      string           `json:"project_name" envconfig:"DFEWATCH_PROJECT_NAME"`
	Server           ServerConfig     `json:"server"`
	DataSource       DataSourceConfig `json:"data_source"`
	Redis            RedisConfig      `json:"redis"`
	Sefaz            SefazConfig      `json:"sefaz"`
	Webhook          WebhookConfig    `json:"webhook"`
	Queue            QueueConfig      `json:"queue"`
	Notification     Notification     `json:"notification"`
	DefaultDocsQuota int              `json:"default_docs_quota" envconfig:"DFEWATCH_DEFAULT_DOCS_QUOTA"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("dfewatch", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called dfewatch.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Dfewatch Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	switch cnf.Sefaz.Environment {
	case EnvironmentHomologation, EnvironmentProduction:
	case "":
		cnf.Sefaz.Environment = EnvironmentHomologation
		log.Printf("Warning: Sefaz environment not specified. Defaulting to %s", EnvironmentHomologation)
	default:
		return errors.New("sefaz environment must be homologation or production")
	}

	if cnf.Sefaz.TimeoutSec <= 0 {
		cnf.Sefaz.TimeoutSec = 30
	}

	if cnf.Webhook.RetryDelays == "" {
		cnf.Webhook.RetryDelays = "10,30,120,600,3600"
	}
	if _, err := parseRetryDelays(cnf.Webhook.RetryDelays); err != nil {
		return err
	}
	if cnf.Webhook.FailureThreshold <= 0 {
		cnf.Webhook.FailureThreshold = 10
	}
	if cnf.Webhook.TimeoutSec <= 0 {
		cnf.Webhook.TimeoutSec = 15
	}
	if cnf.Webhook.BatchSize <= 0 {
		cnf.Webhook.BatchSize = 50
	}

	if cnf.Queue.SyncQueue == "" {
		cnf.Queue.SyncQueue = "monitor:sync"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook:flush"
	}
	if cnf.Queue.SyncInterval == "" {
		cnf.Queue.SyncInterval = "@every 10m"
	}
	if cnf.Queue.FlushInterval == "" {
		cnf.Queue.FlushInterval = "@every 1m"
	}

	if cnf.DefaultDocsQuota <= 0 {
		cnf.DefaultDocsQuota = 500
	}

	return nil
}

// RetrySchedule returns the delivery retry delays as durations, in order.
// The schedule is validated at load time, so parse failures cannot happen here.
func (cnf *Configuration) RetrySchedule() []time.Duration {
	delays, _ := parseRetryDelays(cnf.Webhook.RetryDelays)
	return delays
}

func parseRetryDelays(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		secs, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.New("webhook retry delays must be a comma separated list of seconds")
		}
		delays = append(delays, time.Duration(secs)*time.Second)
	}
	return delays, nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
