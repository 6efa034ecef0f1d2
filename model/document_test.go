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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccessKey(t *testing.T) {
	valid := "35230112345678000195550010000123451234567890"
	assert.NoError(t, ValidateAccessKey(valid))

	assert.Error(t, ValidateAccessKey(""), "empty key")
	assert.Error(t, ValidateAccessKey(valid[:43]), "short key")
	assert.Error(t, ValidateAccessKey(valid+"0"), "long key")
	assert.Error(t, ValidateAccessKey(strings.Replace(valid, "3", "x", 1)), "non-digit")
}

func TestDecodeAccessKey(t *testing.T) {
	doc, err := DecodeAccessKey("35230112345678000195550010000123451234567890")
	require.NoError(t, err)

	assert.Equal(t, KindNFe, doc.Kind)
	assert.Equal(t, "55", doc.ModelCode)
	assert.Equal(t, "SP", doc.IssuerState)
	assert.Equal(t, "12345678000195", doc.IssuerTaxID)
	assert.Equal(t, "1", doc.Series)
	assert.Equal(t, "12345", doc.Number)
	assert.Equal(t, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC), doc.IssuedAt)
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Equal(t, "chave_decodificada", doc.Extra["fonte"])
}

func TestDecodeAccessKeyWaybill(t *testing.T) {
	doc, err := DecodeAccessKey("52230998765432000188570020000067891234567890")
	require.NoError(t, err)

	assert.Equal(t, KindCTe, doc.Kind)
	assert.Equal(t, "57", doc.ModelCode)
	assert.Equal(t, "GO", doc.IssuerState)
	assert.Equal(t, "6789", doc.Number)
}

func TestDecodeAccessKeyInvalidMonth(t *testing.T) {
	// Digits 5-6 encode the month; 13 is not a month.
	_, err := DecodeAccessKey("35231312345678000195550010000123451234567890")
	assert.Error(t, err)
}

func TestDecodeAccessKeyUnknownState(t *testing.T) {
	doc, err := DecodeAccessKey("99230112345678000195550010000123451234567890")
	require.NoError(t, err)
	assert.Equal(t, "99", doc.IssuerState, "unknown state codes pass through raw")
}

func TestNormalizeTaxID(t *testing.T) {
	assert.Equal(t, "12345678000195", NormalizeTaxID("12.345.678/0001-95"))
	assert.Equal(t, "12345678000195", NormalizeTaxID("12345678000195"))
	assert.Equal(t, "12345678901", NormalizeTaxID("123.456.789-01"))
}

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("doc")
	assert.True(t, strings.HasPrefix(id, "doc_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("doc"))
}

func TestMonitorWatchedKinds(t *testing.T) {
	m := Monitor{WatchNFe: true, WatchNFSe: true}
	assert.Equal(t, map[string]bool{KindNFe: true, KindNFSe: true}, m.WatchedKinds())

	none := Monitor{}
	assert.Empty(t, none.WatchedKinds())
}

func TestWebhookSubscribed(t *testing.T) {
	w := Webhook{Events: []string{"document.created", "alert.fired"}}
	assert.True(t, w.Subscribed("document.created"))
	assert.False(t, w.Subscribed("document.cancelled"))
}

func TestNewWebhookSecret(t *testing.T) {
	first := NewWebhookSecret()
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, NewWebhookSecret())
}
