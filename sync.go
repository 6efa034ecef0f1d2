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
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
	"github.com/dfewatch/dfewatch/sefaz"
)

// maxSyncPages bounds one sync run. A monitor far behind the feed catches up
// across several scheduled runs instead of holding a worker for minutes.
const maxSyncPages = 20

// SyncMonitor drains the distribution feed for one monitor: pages from the
// persisted NSU cursor until the feed reports no more documents, reconciles
// every document that passes the monitor's kind filter, and stamps the
// outcome on the monitor. The cursor only ever advances, so a crashed run
// repeats at most one page.
func (l *Dfewatch) SyncMonitor(ctx context.Context, monitorID string) error {
	ctx, span := otel.Tracer("dfewatch.sync").Start(ctx, "SyncMonitor")
	defer span.End()

	monitor, err := l.datasource.GetMonitor(monitorID)
	if err != nil {
		return err
	}
	if !monitor.IsActive {
		return nil
	}

	org, err := l.datasource.GetOrganization(monitor.OrganizationID)
	if err != nil {
		return err
	}

	client, err := l.authorityClient(org)
	if err != nil {
		return l.stampSync(monitor, monitor.LastNSU, err.Error())
	}
	defer client.Close()

	if !client.CanBulkDistribution() {
		// Public mode has no feed access. Record why the monitor is not
		// moving instead of failing the task and retrying forever.
		return l.stampSync(monitor, monitor.LastNSU,
			"bulk distribution unavailable: organization has no certificate or access code")
	}

	kinds := monitor.WatchedKinds()
	cursor := monitor.LastNSU
	upserted := 0

	for page := 0; page < maxSyncPages; page++ {
		batch, err := client.BulkDistribution(ctx, monitor.TaxID, cursor)
		if err != nil {
			return l.stampSync(monitor, cursor, err.Error())
		}

		for _, doc := range batch.Documents {
			if len(kinds) > 0 && !kinds[doc.Kind] {
				continue
			}
			if _, _, err := l.UpsertDocument(ctx, monitor.OrganizationID, doc); err != nil {
				if apierror.Is(err, apierror.ErrQuotaExceeded) {
					logrus.WithField("monitor_id", monitorID).Warn("document quota reached, stopping sync")
				}
				return l.stampSync(monitor, cursor, err.Error())
			}
			upserted++
		}

		// A cursor that stops moving would page the same batch forever.
		if batch.LastNSU == "" || batch.LastNSU == cursor {
			break
		}
		cursor = batch.LastNSU
		if !batch.HasMore() {
			break
		}
	}

	if monitor.WatchNFSe {
		if err := l.syncServiceInvoices(ctx, monitor, org); err != nil {
			logrus.WithError(err).WithField("monitor_id", monitorID).
				Warn("service invoice sync failed, federal sync unaffected")
		}
	}

	logrus.WithFields(logrus.Fields{
		"monitor_id": monitorID,
		"last_nsu":   cursor,
		"documents":  upserted,
	}).Info("monitor synced")
	return l.stampSync(monitor, cursor, "")
}

// syncServiceInvoices polls the municipal registry when the organization has
// a configured municipality. Service invoices live outside the NSU feed.
func (l *Dfewatch) syncServiceInvoices(ctx context.Context, monitor *model.Monitor, org *model.Organization) error {
	municipality, _ := org.MetaData["municipality"].(string)
	if municipality == "" {
		return nil
	}

	configuration, err := config.Fetch()
	if err != nil {
		return err
	}
	client, err := sefaz.NewNFSeClient(municipality, configuration.Sefaz.Timeout())
	if err != nil {
		return err
	}

	since := time.Now().AddDate(0, 0, -30)
	if monitor.LastSyncAt != nil {
		since = *monitor.LastSyncAt
	}
	docs, err := client.LookupByProvider(ctx, monitor.TaxID, since)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, _, err := l.UpsertDocument(ctx, monitor.OrganizationID, doc); err != nil {
			return err
		}
	}
	return nil
}

func (l *Dfewatch) stampSync(monitor *model.Monitor, lastNSU, syncError string) error {
	return l.datasource.UpdateMonitorSync(monitor.MonitorID, lastNSU, syncError, time.Now())
}

// ScanMonitors enqueues a sync task for every active monitor. The scheduler
// calls this on the sync interval; per-task deduplication keeps overlapping
// scans harmless.
func (l *Dfewatch) ScanMonitors(ctx context.Context) error {
	monitors, err := l.datasource.ListActiveMonitors()
	if err != nil {
		return err
	}
	for _, monitor := range monitors {
		if err := l.queue.EnqueueMonitorSync(monitor.MonitorID); err != nil {
			return err
		}
	}
	logrus.WithField("monitors", len(monitors)).Info("monitor scan enqueued")
	return nil
}

// LookupDocument fetches a single document by access key on behalf of an
// organization and reconciles the result into its document set. Works in
// every auth mode thanks to the client's offline fallback.
func (l *Dfewatch) LookupDocument(ctx context.Context, organizationID, accessKey string) (*model.FiscalDocument, error) {
	org, err := l.datasource.GetOrganization(organizationID)
	if err != nil {
		return nil, err
	}
	client, err := l.authorityClient(org)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	docs, err := client.LookupByKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}

	var result *model.FiscalDocument
	for _, doc := range docs {
		stored, _, err := l.UpsertDocument(ctx, organizationID, doc)
		if err != nil {
			return nil, err
		}
		result = stored
	}
	return result, nil
}

// SubmitManifestation submits a recipient manifestation event for a stored
// document and records the authority's acknowledgment in the document's
// extra data.
func (l *Dfewatch) SubmitManifestation(ctx context.Context, organizationID, accessKey string, eventType sefaz.EventType, justification string) (*sefaz.EventAck, error) {
	org, err := l.datasource.GetOrganization(organizationID)
	if err != nil {
		return nil, err
	}
	client, err := l.authorityClient(org)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ack, err := client.SubmitEvent(ctx, org.TaxID, accessKey, eventType, justification)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"organization_id": organizationID,
		"access_key":      accessKey,
		"event_type":      eventType,
		"accepted":        ack.Accepted,
	}).Info("manifestation submitted")
	return ack, nil
}
