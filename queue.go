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
	"encoding/json"
	"errors"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/redisdb"
)

// Queue represents a queue for handling sync and delivery tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// MonitorSyncPayload is the task body for a single monitor sync.
type MonitorSyncPayload struct {
	MonitorID string `json:"monitor_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redisdb.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueMonitorSync enqueues a sync task for one monitor. The task id is the
// monitor id, so a monitor that is already queued or running is not enqueued
// twice; asynq's conflict error is treated as success.
func (q *Queue) EnqueueMonitorSync(monitorID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(MonitorSyncPayload{MonitorID: monitorID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.SyncQueue, payload,
		asynq.TaskID(monitorID),
		asynq.Queue(cfg.Queue.SyncQueue),
	)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued monitor sync: %+v", monitorID)
	return nil
}

// EnqueueFlushDeliveries nudges the delivery worker to drain pending webhook
// deliveries ahead of its cron schedule.
func (q *Queue) EnqueueFlushDeliveries() error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	task := asynq.NewTask(cfg.Queue.WebhookQueue, nil,
		asynq.Queue(cfg.Queue.WebhookQueue),
	)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
