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

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// CreateOrganization creates a new tenant. The document quota falls back to
// the configured default when the caller does not set one, and certificate
// material is checked for well-formedness before it is stored.
func (l *Dfewatch) CreateOrganization(org model.Organization) (model.Organization, error) {
	conf, err := config.Fetch()
	if err != nil {
		return model.Organization{}, err
	}

	if org.CertPFX != "" {
		if _, err := base64.StdEncoding.DecodeString(org.CertPFX); err != nil {
			return model.Organization{}, apierror.NewAPIError(apierror.ErrInvalidInput,
				"cert_pfx must be a base64-encoded PKCS#12 bundle", err)
		}
	}
	if org.DocsQuota <= 0 {
		org.DocsQuota = conf.DefaultDocsQuota
	}
	org.IsActive = true

	return l.datasource.CreateOrganization(org)
}

// GetOrganization retrieves a single organization by id.
func (l *Dfewatch) GetOrganization(id string) (*model.Organization, error) {
	return l.datasource.GetOrganization(id)
}
