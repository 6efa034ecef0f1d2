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
	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/model"
)

// CreateMonitor registers a tax id for monitoring and queues its first sync.
// A monitor that watches no kinds watches the federal ones, and one that
// names no party role watches the tax id as recipient.
func (l *Dfewatch) CreateMonitor(m model.Monitor) (model.Monitor, error) {
	if !m.WatchNFe && !m.WatchCTe && !m.WatchNFSe {
		m.WatchNFe = true
		m.WatchCTe = true
	}
	if !m.AsIssuer && !m.AsRecipient && !m.AsCarrier {
		m.AsRecipient = true
	}
	m.IsActive = true

	created, err := l.datasource.CreateMonitor(m)
	if err != nil {
		return model.Monitor{}, err
	}

	if err := l.queue.EnqueueMonitorSync(created.MonitorID); err != nil {
		logrus.WithError(err).WithField("monitor_id", created.MonitorID).
			Warn("monitor created but initial sync could not be queued")
	}
	return created, nil
}

// GetMonitor retrieves a single monitor by id.
func (l *Dfewatch) GetMonitor(id string) (*model.Monitor, error) {
	return l.datasource.GetMonitor(id)
}

// ListMonitors returns all monitors of one organization.
func (l *Dfewatch) ListMonitors(organizationID string) ([]model.Monitor, error) {
	return l.datasource.ListMonitors(organizationID)
}

// RequestSync queues an out-of-band sync for one monitor. A monitor whose
// sync is already queued or running is not queued again.
func (l *Dfewatch) RequestSync(monitorID string) error {
	if _, err := l.datasource.GetMonitor(monitorID); err != nil {
		return err
	}
	return l.queue.EnqueueMonitorSync(monitorID)
}
