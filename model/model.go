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
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a unique identifier prefixed with a module
// name, e.g. "doc_9f1c...". The prefix makes identifiers self-describing in
// logs and API payloads.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// NormalizeTaxID strips the usual CNPJ/CPF punctuation so tax ids compare
// equal regardless of how they were typed.
func NormalizeTaxID(taxID string) string {
	r := strings.NewReplacer(".", "", "/", "", "-", "", " ", "")
	return r.Replace(taxID)
}
