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

	"github.com/gin-gonic/gin"
)

func (a Api) CreateMonitor(c *gin.Context) {
	var newMonitor model2.CreateMonitor
	if err := c.ShouldBindJSON(&newMonitor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newMonitor.ValidateCreateMonitor(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.service.CreateMonitor(newMonitor.ToMonitor())
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetMonitor(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.service.GetMonitor(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllMonitors(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.service.ListMonitors(id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) TriggerSync(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.service.RequestSync(id); err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"monitor_id": id, "status": "queued"})
}
