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
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Document kinds. The kind is derived from the document model code embedded
// in the access key (55 = electronic invoice, 57 = electronic waybill) or set
// directly by the municipal service-invoice parser.
const (
	KindNFe  = "nfe"
	KindCTe  = "cte"
	KindNFSe = "nfse"
)

// Lifecycle statuses of a fiscal document. Unknown authority codes always map
// to StatusProcessing, never to a terminal state.
const (
	StatusProcessing = "processing"
	StatusAuthorized = "authorized"
	StatusCancelled  = "cancelled"
	StatusDenied     = "denied"
)

// AccessKeyLength is the fixed length of a fiscal document access key.
const AccessKeyLength = 44

// stateCodes maps the two leading digits of an access key to the issuing
// state abbreviation.
var stateCodes = map[string]string{
	"11": "RO", "12": "AC", "13": "AM", "14": "RR", "15": "PA", "16": "AP",
	"17": "TO", "21": "MA", "22": "PI", "23": "CE", "24": "RN", "25": "PB",
	"26": "PE", "27": "AL", "28": "SE", "29": "BA", "31": "MG", "32": "ES",
	"33": "RJ", "35": "SP", "41": "PR", "42": "SC", "43": "RS", "50": "MS",
	"51": "MT", "52": "GO", "53": "DF",
}

// Document is the canonical record every parser produces, regardless of the
// source schema. Fields that a given schema does not carry stay at their zero
// value; genuinely schema-specific leftovers go into Extra.
type Document struct {
	Kind           string                 `json:"kind"`
	AccessKey      string                 `json:"access_key"`
	Number         string                 `json:"number"`
	Series         string                 `json:"series"`
	ModelCode      string                 `json:"model_code"`
	IssuerTaxID    string                 `json:"issuer_tax_id"`
	IssuerName     string                 `json:"issuer_name,omitempty"`
	IssuerStateReg string                 `json:"issuer_state_reg,omitempty"`
	IssuerState    string                 `json:"issuer_state,omitempty"`
	IssuerCity     string                 `json:"issuer_city,omitempty"`
	RecipientTaxID string                 `json:"recipient_tax_id,omitempty"`
	RecipientName  string                 `json:"recipient_name,omitempty"`
	RecipientState string                 `json:"recipient_state,omitempty"`
	TotalAmount    decimal.Decimal        `json:"total_amount"`
	ICMSAmount     decimal.Decimal        `json:"icms_amount"`
	IPIAmount      decimal.Decimal        `json:"ipi_amount"`
	ISSAmount      decimal.Decimal        `json:"iss_amount"`
	IssuedAt       time.Time              `json:"issued_at"`
	AuthorizedAt   *time.Time             `json:"authorized_at,omitempty"`
	Status         string                 `json:"status"`
	Protocol       string                 `json:"protocol,omitempty"`
	StatusReason   string                 `json:"status_reason,omitempty"`
	Operation      string                 `json:"operation,omitempty"`
	CFOP           string                 `json:"cfop,omitempty"`
	RawXML         string                 `json:"-"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// FiscalDocument is the persisted form of a canonical document, unique per
// (organization, access key).
type FiscalDocument struct {
	Document
	DocumentID     string     `json:"document_id"`
	OrganizationID string     `json:"organization_id"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ValidateAccessKey checks the structural invariant of an access key: exactly
// 44 digits.
func ValidateAccessKey(key string) error {
	if len(key) != AccessKeyLength {
		return fmt.Errorf("access key must have %d digits, got %d", AccessKeyLength, len(key))
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return errors.New("access key must contain only digits")
		}
	}
	return nil
}

// DecodeAccessKey derives a minimal document from the digits of a valid
// access key alone, with no network involved. The layout is fixed: digits
// 1-2 state code, 3-6 year and month of issuance, 7-20 issuer tax id,
// 21-22 document model, 23-25 series, 26-34 number.
//
// The resulting document always carries StatusProcessing and is tagged in
// Extra as derived offline, so downstream consumers can tell it apart from a
// document parsed out of authority XML.
func DecodeAccessKey(key string) (*Document, error) {
	if err := ValidateAccessKey(key); err != nil {
		return nil, err
	}

	stateCode := key[0:2]
	yearMonth := key[2:6]
	issuerTaxID := key[6:20]
	modelCode := key[20:22]
	series := key[22:25]
	number := key[25:34]

	kind := KindNFe
	if modelCode == "57" {
		kind = KindCTe
	}

	year, _ := strconv.Atoi("20" + yearMonth[0:2])
	month, _ := strconv.Atoi(yearMonth[2:4])
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("access key encodes invalid month %q", yearMonth[2:4])
	}
	issuedAt := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	state, ok := stateCodes[stateCode]
	if !ok {
		state = stateCode
	}

	return &Document{
		Kind:         kind,
		AccessKey:    key,
		Number:       strings0(number),
		Series:       strings0(series),
		ModelCode:    modelCode,
		IssuerTaxID:  issuerTaxID,
		IssuerState:  state,
		TotalAmount:  decimal.Zero,
		IssuedAt:     issuedAt,
		Status:       StatusProcessing,
		StatusReason: "offline lookup, fields derived from the access key",
		Extra: map[string]interface{}{
			"fonte": "chave_decodificada",
		},
	}, nil
}

// strings0 drops leading zeros from a numeric segment, keeping at least one
// digit.
func strings0(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	return strconv.Itoa(n)
}
