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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfiguration() *Configuration {
	return &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/dfewatch"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := validConfiguration()
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, EnvironmentHomologation, cnf.Sefaz.Environment)
	assert.Equal(t, 30, cnf.Sefaz.TimeoutSec)
	assert.Equal(t, "10,30,120,600,3600", cnf.Webhook.RetryDelays)
	assert.Equal(t, 10, cnf.Webhook.FailureThreshold)
	assert.Equal(t, 15, cnf.Webhook.TimeoutSec)
	assert.Equal(t, 50, cnf.Webhook.BatchSize)
	assert.Equal(t, "monitor:sync", cnf.Queue.SyncQueue)
	assert.Equal(t, "webhook:flush", cnf.Queue.WebhookQueue)
	assert.Equal(t, 500, cnf.DefaultDocsQuota)
}

func TestValidateRequiresDataSource(t *testing.T) {
	cnf := &Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cnf := validConfiguration()
	cnf.Sefaz.Environment = "staging"
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateRejectsMalformedRetryDelays(t *testing.T) {
	cnf := validConfiguration()
	cnf.Webhook.RetryDelays = "10,soon,120"
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestRetrySchedule(t *testing.T) {
	cnf := validConfiguration()
	require.NoError(t, cnf.validateAndAddDefaults())

	schedule := cnf.RetrySchedule()
	assert.Equal(t, []time.Duration{
		10 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute, time.Hour,
	}, schedule)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "test"})
	fetched, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "test", fetched.ProjectName)
}
