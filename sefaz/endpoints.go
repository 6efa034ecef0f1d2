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

package sefaz

import (
	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/model"
)

// Service endpoint names.
const (
	endpointNFeLookup       = "nfe_lookup"
	endpointNFeDistribution = "nfe_distribution"
	endpointNFeEvent        = "nfe_event"
	endpointCTeLookup       = "cte_lookup"
	endpointCTeDistribution = "cte_distribution"
)

// endpoints holds the authority base URLs per environment. The URLs are a
// fixed wire contract published by the authority.
var endpoints = map[string]map[string]string{
	config.EnvironmentHomologation: {
		endpointNFeLookup:       "https://hom.nfe.fazenda.gov.br/NFeConsultaProtocolo4/NFeConsultaProtocolo4.asmx",
		endpointNFeDistribution: "https://hom.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx",
		endpointNFeEvent:        "https://hom.nfe.fazenda.gov.br/NFeRecepcaoEvento4/NFeRecepcaoEvento4.asmx",
		endpointCTeLookup:       "https://hom.cte.fazenda.gov.br/CTeConsultaProtocolo/CTeConsultaProtocolo.asmx",
		endpointCTeDistribution: "https://hom.cte.fazenda.gov.br/CTeDistribuicaoDFe/CTeDistribuicaoDFe.asmx",
	},
	config.EnvironmentProduction: {
		endpointNFeLookup:       "https://nfe.fazenda.gov.br/NFeConsultaProtocolo4/NFeConsultaProtocolo4.asmx",
		endpointNFeDistribution: "https://nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx",
		endpointNFeEvent:        "https://nfe.fazenda.gov.br/NFeRecepcaoEvento4/NFeRecepcaoEvento4.asmx",
		endpointCTeLookup:       "https://cte.fazenda.gov.br/CTeConsultaProtocolo/CTeConsultaProtocolo.asmx",
		endpointCTeDistribution: "https://cte.fazenda.gov.br/CTeDistribuicaoDFe/CTeDistribuicaoDFe.asmx",
	},
}

// statusCodes maps the authority's numeric result codes to canonical
// lifecycle statuses. The table is deliberately closed: codes not listed here
// map to processing so an unmapped code can never silently close out a
// monitor.
var statusCodes = map[string]string{
	"100": model.StatusAuthorized,
	"136": model.StatusAuthorized,
	"101": model.StatusCancelled,
	"135": model.StatusCancelled,
	"155": model.StatusCancelled,
	"110": model.StatusDenied,
	"301": model.StatusDenied,
	"302": model.StatusDenied,
}

// StatusFromCode translates an authority result code into a canonical
// document status.
func StatusFromCode(code string) string {
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return model.StatusProcessing
}

// EventType identifies a recipient manifestation event submitted to the
// authority.
type EventType string

const (
	EventConfirmOperation     EventType = "210200"
	EventAcknowledgeOperation EventType = "210210"
	EventUnknownOperation     EventType = "210220"
	EventOperationNotDone     EventType = "210240"
)

var eventDescriptions = map[EventType]string{
	EventConfirmOperation:     "Confirmação da Operação",
	EventAcknowledgeOperation: "Ciência da Operação",
	EventUnknownOperation:     "Desconhecimento da Operação",
	EventOperationNotDone:     "Operação não Realizada",
}

// Description returns the authority-facing description of the event type.
func (t EventType) Description() string {
	if d, ok := eventDescriptions[t]; ok {
		return d
	}
	return "Manifestação"
}

// RequiresJustification reports whether the event type must carry a free-form
// justification. Only "operation not performed" does.
func (t EventType) RequiresJustification() bool {
	return t == EventOperationNotDone
}
