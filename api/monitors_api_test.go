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

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch"
	model2 "github.com/dfewatch/dfewatch/api/model"
	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/database/mocks"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(s.Response); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()
	mr := miniredis.RunT(t)

	config.MockConfig(&config.Configuration{
		Redis:            config.RedisConfig{Dns: mr.Addr()},
		Sefaz:            config.SefazConfig{Environment: config.EnvironmentHomologation, TimeoutSec: 30},
		Webhook:          config.WebhookConfig{RetryDelays: "10,30,120,600,3600", FailureThreshold: 10, TimeoutSec: 15, BatchSize: 50},
		Queue:            config.QueueConfig{SyncQueue: "monitor:sync", WebhookQueue: "webhook:flush"},
		DefaultDocsQuota: 500,
	})

	datasource := new(mocks.MockDataSource)
	service, err := dfewatch.NewDfewatch(datasource)
	require.NoError(t, err)

	return NewAPI(service).Router(), datasource
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestCreateOrganizationAPI(t *testing.T) {
	router, datasource := setupRouter(t)

	payload := model2.CreateOrganization{
		Name:  gofakeit.Company(),
		TaxID: "12.345.678/0001-95",
		Plan:  "pro",
	}
	datasource.On("CreateOrganization", mock.MatchedBy(func(org model.Organization) bool {
		return org.DocsQuota == 500 && org.IsActive
	})).Return(model.Organization{OrganizationID: "org_1", Name: payload.Name}, nil)

	var response model.Organization
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/organizations",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "org_1", response.OrganizationID)
	datasource.AssertExpectations(t)
}

func TestCreateOrganizationRejectsBadCertificate(t *testing.T) {
	router, datasource := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, model2.CreateOrganization{Name: "Acme", CertPFX: "not-base64!!"}),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/organizations",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	datasource.AssertNotCalled(t, "CreateOrganization", mock.Anything)
}

func TestCreateMonitorAPI(t *testing.T) {
	router, datasource := setupRouter(t)

	tests := []struct {
		name         string
		payload      model2.CreateMonitor
		expectedCode int
	}{
		{
			name:         "valid monitor",
			payload:      model2.CreateMonitor{OrganizationID: "org_1", TaxID: "12.345.678/0001-95"},
			expectedCode: http.StatusCreated,
		},
		{
			name:         "missing organization",
			payload:      model2.CreateMonitor{TaxID: "12345678000195"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "malformed tax id",
			payload:      model2.CreateMonitor{OrganizationID: "org_1", TaxID: "123"},
			expectedCode: http.StatusBadRequest,
		},
	}

	datasource.On("CreateMonitor", mock.AnythingOfType("model.Monitor")).
		Return(model.Monitor{MonitorID: "mon_1", OrganizationID: "org_1"}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := SetUpTestRequest(TestRequest{
				Payload: toJSON(t, tt.payload),
				Router:  router,
				Method:  http.MethodPost,
				Route:   "/monitors",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestGetMonitorNotFound(t *testing.T) {
	router, datasource := setupRouter(t)

	datasource.On("GetMonitor", "mon_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Monitor not found", nil))

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/monitors/mon_missing",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTriggerSyncQueues(t *testing.T) {
	router, datasource := setupRouter(t)

	datasource.On("GetMonitor", "mon_1").
		Return(&model.Monitor{MonitorID: "mon_1", IsActive: true}, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodPost,
		Route:  "/monitors/mon_1/sync",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	datasource.AssertExpectations(t)
}

func TestGetAllDocumentsParsesFilter(t *testing.T) {
	router, datasource := setupRouter(t)

	datasource.On("ListDocuments", mock.Anything, "org_1", mock.MatchedBy(func(f database.DocumentFilter) bool {
		return f.Kind == model.KindNFe && f.Status == model.StatusAuthorized && f.Limit == 10
	})).Return([]model.FiscalDocument{}, nil)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/organizations/org_1/documents?kind=nfe&status=authorized&limit=10",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	datasource.AssertExpectations(t)
}

func TestGetAllDocumentsRejectsBadSince(t *testing.T) {
	router, _ := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/organizations/org_1/documents?since=yesterday",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
