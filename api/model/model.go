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

package model

import (
	"errors"
	"net/url"

	"github.com/dfewatch/dfewatch"
	"github.com/dfewatch/dfewatch/model"
	"github.com/dfewatch/dfewatch/sefaz"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func taxIDValidation(value interface{}) error {
	s, _ := value.(string)
	normalized := model.NormalizeTaxID(s)
	if len(normalized) != 11 && len(normalized) != 14 {
		return errors.New("tax id must be a CPF (11 digits) or CNPJ (14 digits)")
	}
	return nil
}

func accessKeyValidation(value interface{}) error {
	s, _ := value.(string)
	return model.ValidateAccessKey(s)
}

func webhookURLValidation(value interface{}) error {
	s, _ := value.(string)
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return errors.New("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	return nil
}

func justificationValidation(m *SubmitManifestation) validation.RuleFunc {
	return func(value interface{}) error {
		if sefaz.EventType(m.EventType).RequiresJustification() && m.Justification == "" {
			return errors.New("justification is required for operation-not-done events")
		}
		return nil
	}
}

func conditionValueValidation(a *CreateAlert) validation.RuleFunc {
	return func(value interface{}) error {
		switch a.Condition {
		case model.ConditionValueAbove, model.ConditionSpecificTax:
			if a.ConditionValue == "" {
				return errors.New("condition_value is required for this condition")
			}
		}
		return nil
	}
}

func destinationValidation(a *CreateAlert) validation.RuleFunc {
	return func(value interface{}) error {
		if a.Channel == model.ChannelEmail && a.Destination == "" {
			return errors.New("destination is required for the email channel")
		}
		return nil
	}
}

func (o *CreateOrganization) ValidateCreateOrganization() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Name, validation.Required),
		validation.Field(&o.TaxID, validation.When(o.TaxID != "", validation.By(taxIDValidation))),
	)
}

func (m *CreateMonitor) ValidateCreateMonitor() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.OrganizationID, validation.Required),
		validation.Field(&m.TaxID, validation.Required, validation.By(taxIDValidation)),
	)
}

func (d *LookupDocument) ValidateLookupDocument() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.AccessKey, validation.Required, validation.By(accessKeyValidation)),
	)
}

func (m *SubmitManifestation) ValidateSubmitManifestation() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.EventType, validation.Required, validation.In(
			string(sefaz.EventConfirmOperation),
			string(sefaz.EventAcknowledgeOperation),
			string(sefaz.EventUnknownOperation),
			string(sefaz.EventOperationNotDone),
		)),
		validation.Field(&m.Justification, validation.By(justificationValidation(m))),
	)
}

func (w *CreateWebhook) ValidateCreateWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.OrganizationID, validation.Required),
		validation.Field(&w.Name, validation.Required),
		validation.Field(&w.URL, validation.Required, validation.By(webhookURLValidation)),
		validation.Field(&w.Events, validation.Required, validation.Each(validation.In(
			dfewatch.EventDocumentCreated,
			dfewatch.EventDocumentCancelled,
			dfewatch.EventDocumentDenied,
			dfewatch.EventAlertFired,
		))),
	)
}

func (w *UpdateWebhook) ValidateUpdateWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Name, validation.Required),
		validation.Field(&w.URL, validation.Required, validation.By(webhookURLValidation)),
		validation.Field(&w.Events, validation.Required, validation.Each(validation.In(
			dfewatch.EventDocumentCreated,
			dfewatch.EventDocumentCancelled,
			dfewatch.EventDocumentDenied,
			dfewatch.EventAlertFired,
		))),
	)
}

func (a *CreateAlert) ValidateCreateAlert() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.OrganizationID, validation.Required),
		validation.Field(&a.Name, validation.Required),
		validation.Field(&a.Condition, validation.Required, validation.In(
			model.ConditionNewDocument,
			model.ConditionCancellation,
			model.ConditionValueAbove,
			model.ConditionSpecificTax,
		)),
		validation.Field(&a.ConditionValue, validation.By(conditionValueValidation(a))),
		validation.Field(&a.Channel, validation.Required, validation.In(model.ChannelEmail, model.ChannelWebhook)),
		validation.Field(&a.Destination, validation.By(destinationValidation(a))),
	)
}

func (o *CreateOrganization) ToOrganization() model.Organization {
	return model.Organization{
		Name:         o.Name,
		TaxID:        o.TaxID,
		Plan:         o.Plan,
		DocsQuota:    o.DocsQuota,
		CertPFX:      o.CertPFX,
		CertPassword: o.CertPassword,
		AccessCode:   o.AccessCode,
		MetaData:     o.MetaData,
	}
}

func (m *CreateMonitor) ToMonitor() model.Monitor {
	return model.Monitor{
		OrganizationID: m.OrganizationID,
		TaxID:          m.TaxID,
		LegalName:      m.LegalName,
		Description:    m.Description,
		WatchNFe:       m.WatchNFe,
		WatchCTe:       m.WatchCTe,
		WatchNFSe:      m.WatchNFSe,
		AsIssuer:       m.AsIssuer,
		AsRecipient:    m.AsRecipient,
		AsCarrier:      m.AsCarrier,
	}
}

func (w *CreateWebhook) ToWebhook() model.Webhook {
	return model.Webhook{
		OrganizationID: w.OrganizationID,
		Name:           w.Name,
		URL:            w.URL,
		Events:         w.Events,
	}
}

func (a *CreateAlert) ToAlert() model.Alert {
	return model.Alert{
		OrganizationID: a.OrganizationID,
		MonitorID:      a.MonitorID,
		Name:           a.Name,
		Condition:      a.Condition,
		ConditionValue: a.ConditionValue,
		Channel:        a.Channel,
		Destination:    a.Destination,
	}
}
