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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/dfewatch/dfewatch"
	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/redisdb"
)

// scanTaskType is the periodic task that fans out one sync task per active
// monitor. It shares the sync queue but has its own handler.
const scanTaskType = "monitor:scan"

// processSyncMonitor pulls one monitor's documents from the tax authority.
// Returning an error pushes the task back for asynq's retry handling, so a
// flaky authority endpoint does not lose the sync.
func (d *dfewatchInstance) processSyncMonitor(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("dfewatch.sync.worker").Start(ctx, "Process Monitor Sync From Queue")
	defer span.End()

	var payload dfewatch.MonitorSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := d.service.SyncMonitor(ctx, payload.MonitorID); err != nil {
		logrus.Infof("Monitor %s pushed back for retry due to error: %v", payload.MonitorID, err)
		return err
	}

	log.Println(" [*] Monitor Synced", payload.MonitorID)
	return nil
}

// processScanMonitors enqueues a sync task for every active monitor.
func (d *dfewatchInstance) processScanMonitors(ctx context.Context, _ *asynq.Task) error {
	return d.service.ScanMonitors(ctx)
}

// processFlushDeliveries drains due webhook deliveries.
func (d *dfewatchInstance) processFlushDeliveries(ctx context.Context, _ *asynq.Task) error {
	sent, err := d.service.FlushPendingDeliveries(ctx)
	if err != nil {
		return err
	}
	if sent > 0 {
		log.Println(" [*] Webhook deliveries flushed", sent)
	}
	return nil
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.SyncQueue:    3,
		conf.Queue.WebhookQueue: 3,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redisdb.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(d *dfewatchInstance, mux *asynq.ServeMux, conf *config.Configuration) {
	mux.HandleFunc(conf.Queue.SyncQueue, d.processSyncMonitor)
	mux.HandleFunc(scanTaskType, d.processScanMonitors)
	mux.HandleFunc(conf.Queue.WebhookQueue, d.processFlushDeliveries)
}

// initializeScheduler registers the periodic monitor scan and delivery flush.
// The intervals are cron specs from the configuration.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redisdb.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		nil,
	)

	_, err = scheduler.Register(conf.Queue.SyncInterval,
		asynq.NewTask(scanTaskType, nil, asynq.Queue(conf.Queue.SyncQueue)))
	if err != nil {
		return nil, fmt.Errorf("error registering monitor scan: %v", err)
	}

	_, err = scheduler.Register(conf.Queue.FlushInterval,
		asynq.NewTask(conf.Queue.WebhookQueue, nil, asynq.Queue(conf.Queue.WebhookQueue)))
	if err != nil {
		return nil, fmt.Errorf("error registering delivery flush: %v", err)
	}

	return scheduler, nil
}

// workerCommands defines the "workers" command. The workers consume the sync
// and delivery queues and run the periodic scheduler.
func workerCommands(d *dfewatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start dfewatch workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(d, mux, conf)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}
