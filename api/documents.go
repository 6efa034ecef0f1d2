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
	"strconv"
	"time"

	model2 "github.com/dfewatch/dfewatch/api/model"
	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/sefaz"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (a Api) GetAllDocuments(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}

	filter, err := documentFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.service.ListDocuments(c.Request.Context(), id, filter)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}
	accessKey, passed := c.Params.Get("access_key")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_key is required. pass it in the route /:access_key"})
		return
	}

	resp, err := a.service.GetDocument(id, accessKey)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// LookupDocument queries the tax authority for one access key on demand and
// reconciles the result into storage before returning it.
func (a Api) LookupDocument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}

	var lookup model2.LookupDocument
	if err := c.ShouldBindJSON(&lookup); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := lookup.ValidateLookupDocument(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.service.LookupDocument(c.Request.Context(), id, lookup.AccessKey)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) SubmitManifestation(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization id is required. pass id in the route /:id"})
		return
	}
	accessKey, passed := c.Params.Get("access_key")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_key is required. pass it in the route /:access_key"})
		return
	}

	var manifestation model2.SubmitManifestation
	if err := c.ShouldBindJSON(&manifestation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := manifestation.ValidateSubmitManifestation(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	ack, err := a.service.SubmitManifestation(c.Request.Context(), id, accessKey,
		sefaz.EventType(manifestation.EventType), manifestation.Justification)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}

func documentFilterFromQuery(c *gin.Context) (database.DocumentFilter, error) {
	filter := database.DocumentFilter{
		Kind:        c.Query("kind"),
		Status:      c.Query("status"),
		IssuerState: c.Query("state"),
		IssuerTaxID: c.Query("issuer_tax_id"),
	}

	if since := c.Query("since"); since != "" {
		parsed, err := parseQueryTime(since)
		if err != nil {
			return filter, err
		}
		filter.Since = &parsed
	}
	if until := c.Query("until"); until != "" {
		parsed, err := parseQueryTime(until)
		if err != nil {
			return filter, err
		}
		filter.Until = &parsed
	}
	if minAmount := c.Query("min_amount"); minAmount != "" {
		parsed, err := decimal.NewFromString(minAmount)
		if err != nil {
			return filter, err
		}
		filter.MinAmount = &parsed
	}
	if maxAmount := c.Query("max_amount"); maxAmount != "" {
		parsed, err := decimal.NewFromString(maxAmount)
		if err != nil {
			return filter, err
		}
		filter.MaxAmount = &parsed
	}
	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return filter, err
		}
		filter.Limit = parsed
	}
	if offset := c.Query("offset"); offset != "" {
		parsed, err := strconv.Atoi(offset)
		if err != nil {
			return filter, err
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func parseQueryTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		parsed, err = time.Parse("2006-01-02", value)
	}
	return parsed, err
}
