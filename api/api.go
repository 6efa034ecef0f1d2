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
	"github.com/gin-gonic/gin"

	"github.com/dfewatch/dfewatch"
	"github.com/dfewatch/dfewatch/internal/apierror"
)

type Api struct {
	service *dfewatch.Dfewatch
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/organizations", a.CreateOrganization)
	router.GET("/organizations/:id", a.GetOrganization)

	router.POST("/monitors", a.CreateMonitor)
	router.GET("/monitors/:id", a.GetMonitor)
	router.POST("/monitors/:id/sync", a.TriggerSync)
	router.GET("/organizations/:id/monitors", a.GetAllMonitors)

	router.GET("/organizations/:id/documents", a.GetAllDocuments)
	router.GET("/organizations/:id/documents/:access_key", a.GetDocument)
	router.POST("/organizations/:id/document-lookup", a.LookupDocument)
	router.POST("/organizations/:id/documents/:access_key/manifestation", a.SubmitManifestation)

	router.POST("/webhooks", a.CreateWebhook)
	router.GET("/webhooks/:id", a.GetWebhook)
	router.PUT("/webhooks/:id", a.UpdateWebhook)
	router.POST("/webhooks/:id/rotate-secret", a.RotateWebhookSecret)
	router.POST("/webhooks/:id/test", a.TestWebhook)
	router.GET("/organizations/:id/webhooks", a.GetAllWebhooks)
	router.GET("/deliveries/:id", a.GetDelivery)

	router.POST("/alerts", a.CreateAlert)
	router.GET("/organizations/:id/alerts", a.GetAllAlerts)
	return a.router
}

func NewAPI(service *dfewatch.Dfewatch) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{service: service, router: r}
}

// serviceError maps domain errors to HTTP statuses. Anything that is not an
// APIError is an internal failure and is reported as such.
func serviceError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
