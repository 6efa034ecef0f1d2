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

	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// GetDocument retrieves one stored document by access key, scoped to the
// organization that owns it.
func (l *Dfewatch) GetDocument(organizationID, accessKey string) (*model.FiscalDocument, error) {
	if err := model.ValidateAccessKey(accessKey); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	return l.datasource.GetDocumentByAccessKey(organizationID, accessKey)
}

// ListDocuments returns an organization's documents, newest first, narrowed
// by the filter.
func (l *Dfewatch) ListDocuments(ctx context.Context, organizationID string, filter database.DocumentFilter) ([]model.FiscalDocument, error) {
	return l.datasource.ListDocuments(ctx, organizationID, filter)
}
