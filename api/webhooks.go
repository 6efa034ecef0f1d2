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
	"net/http"

	model2 "github.com/dfewatch/dfewatch/api/model"
	"github.com/dfewatch/dfewatch/model"

	"github.com/gin-gonic/gin"
)

func (a Api) CreateWebhook(c *gin.Context) {
	var newWebhook model2.CreateWebhook
	if err := c.ShouldBindJSON(&newWebhook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newWebhook.ValidateCreateWebhook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.service.CreateWebhook(newWebhook.ToWebhook())
	if err != nil {
		serviceError(c, err)
		return
	}

	// The secret is surfaced exactly once, on creation. Every later read of
	// the webhook redacts it.
	c.JSON(http.StatusCreated, gin.H{"webhook": resp, "secret": resp.Secret})
}

func (a Api) GetWebhook(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.service.GetWebhook(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllWebhooks(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.service.ListWebhooks(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateWebhook(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var update model2.UpdateWebhook
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := update.ValidateUpdateWebhook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := a.service.UpdateWebhook(model.Webhook{
		WebhookID: id,
		Name:      update.Name,
		URL:       update.URL,
		Events:    update.Events,
		IsActive:  update.IsActive,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhook_id": id, "status": "updated"})
}

func (a Api) RotateWebhookSecret(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	secret, err := a.service.RotateWebhookSecret(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhook_id": id, "secret": secret})
}

// TestWebhook fires a synthetic event at the endpoint without touching the
// webhook's failure counters, so operators can verify connectivity safely.
func (a Api) TestWebhook(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	result, err := a.service.TestDelivery(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a Api) GetDelivery(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.service.GetDelivery(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
