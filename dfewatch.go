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

package dfewatch

import (
	"encoding/base64"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/internal/cache"
	"github.com/dfewatch/dfewatch/internal/redisdb"
	"github.com/dfewatch/dfewatch/model"
	"github.com/dfewatch/dfewatch/sefaz"
)

// Dfewatch is the main application struct. It wires the datasource, the task
// queue and Redis together; all domain operations hang off it.
type Dfewatch struct {
	queue      *Queue
	redis      redis.UniversalClient
	cache      cache.Cache
	datasource database.IDataSource
}

// NewDfewatch initializes a new instance with the provided datasource. It
// fetches the configuration and initializes the Redis client and the queue.
func NewDfewatch(db database.IDataSource) (*Dfewatch, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redisdb.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	lookupCache, err := cache.NewCache()
	if err != nil {
		logrus.WithError(err).Warn("lookup cache unavailable, authority lookups will not be cached")
		lookupCache = nil
	}
	return &Dfewatch{datasource: db, queue: newQueue, redis: redisClient.Client(), cache: lookupCache}, nil
}

// authorityClient builds a tax-authority client from an organization's stored
// credentials. Every organization gets its own client because certificate
// transports cannot be shared across tenants; callers own the Close.
func (l *Dfewatch) authorityClient(org *model.Organization) (*sefaz.Client, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var pfx []byte
	if org.CertPFX != "" {
		decoded, err := base64.StdEncoding.DecodeString(org.CertPFX)
		if err == nil {
			pfx = decoded
		}
	}

	return sefaz.NewClient(sefaz.Options{
		Environment:  configuration.Sefaz.Environment,
		Timeout:      configuration.Sefaz.Timeout(),
		Cache:        l.cache,
		TaxID:        org.TaxID,
		AccessCode:   org.AccessCode,
		CertPFX:      pfx,
		CertPassword: org.CertPassword,
		CertPath:     configuration.Sefaz.CertPath,
	})
}
