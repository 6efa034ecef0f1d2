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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jarcoal/httpmock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

const testAccessKey = "35230112345678000195550010000123451234567890"

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	client, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestModeDetection(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want AuthMode
	}{
		{"no credentials", Options{}, ModePublic},
		{"tax id alone is not enough", Options{TaxID: "12.345.678/0001-95"}, ModePublic},
		{"access code", Options{TaxID: "12345678000195", AccessCode: "secret"}, ModeAccessCode},
		{"certificate wins over access code", Options{
			TaxID: "12345678000195", AccessCode: "secret", CertPFX: []byte("pfx"),
		}, ModeCertificate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.opts)
			assert.Equal(t, tt.want, client.Mode())
		})
	}
}

func TestModeCapabilities(t *testing.T) {
	public := newTestClient(t, Options{})
	assert.False(t, public.CanBulkDistribution())
	assert.False(t, public.CanSubmitEvents())

	accessCode := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})
	assert.True(t, accessCode.CanBulkDistribution())
	assert.True(t, accessCode.CanSubmitEvents())
}

func TestNewClientRejectsUnknownEnvironment(t *testing.T) {
	_, err := NewClient(Options{Environment: "staging"})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestLookupByKeyRejectsMalformedKey(t *testing.T) {
	client := newTestClient(t, Options{})

	_, err := client.LookupByKey(context.Background(), "not-a-key")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestLookupByKeyParsesAuthorizedDocument(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	body := fmt.Sprintf(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body><nfeResultMsg>
    <retConsSitNFe versao="4.00">
      <cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo>
      <protNFe><infProt>
        <chNFe>%s</chNFe>
        <dhRecbto>2023-01-15T10:30:00-03:00</dhRecbto>
        <nProt>135230000012345</nProt>
        <cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo>
      </infProt></protNFe>
    </retConsSitNFe>
  </nfeResultMsg></soap:Body>
</soap:Envelope>`, testAccessKey)
	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeLookup],
		httpmock.NewStringResponder(http.StatusOK, body))

	client := newTestClient(t, Options{})

	docs, err := client.LookupByKey(context.Background(), testAccessKey)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.Equal(t, "135230000012345", doc.Protocol)
	assert.Equal(t, model.KindNFe, doc.Kind)
	assert.Equal(t, "12345678000195", doc.IssuerTaxID)
	require.NotNil(t, doc.AuthorizedAt)
	assert.Equal(t, "consulta_protocolo", doc.Extra["fonte"])
}

func TestLookupByKeyFallsBackToOfflineDecode(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeLookup],
		httpmock.NewStringResponder(http.StatusInternalServerError, "unavailable"))

	client := newTestClient(t, Options{})

	docs, err := client.LookupByKey(context.Background(), testAccessKey)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, model.StatusProcessing, doc.Status)
	assert.Equal(t, "chave_decodificada", doc.Extra["fonte"])
	assert.Equal(t, "12345678000195", doc.IssuerTaxID)
	assert.Equal(t, "SP", doc.IssuerState)
	assert.Equal(t, "12345", doc.Number)
}

func TestBulkDistributionRefusedInPublicMode(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := newTestClient(t, Options{})

	_, err := client.BulkDistribution(context.Background(), "12345678000195", "")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrUnsupportedMode))
	assert.Zero(t, httpmock.GetTotalCallCount(), "refusal must not touch the network")
}

func gzipBase64(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestBulkDistributionParsesBatch(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	proc := fmt.Sprintf(`<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe><infNFe Id="NFe%s" versao="4.00">
    <ide><mod>55</mod><serie>1</serie><nNF>12345</nNF>
      <dhEmi>2023-01-10T08:00:00-03:00</dhEmi><natOp>VENDA</natOp></ide>
    <emit><CNPJ>12345678000195</CNPJ><xNome>Fornecedor Ltda</xNome></emit>
    <dest><CNPJ>98765432000188</CNPJ><xNome>Cliente SA</xNome></dest>
    <total><ICMSTot><vNF>1500.50</vNF><vICMS>270.09</vICMS><vIPI>0.00</vIPI></ICMSTot></total>
  </infNFe></NFe>
  <protNFe><infProt>
    <chNFe>%s</chNFe><dhRecbto>2023-01-10T08:01:00-03:00</dhRecbto>
    <nProt>135230000054321</nProt><cStat>100</cStat><xMotivo>Autorizado</xMotivo>
  </infProt></protNFe>
</nfeProc>`, testAccessKey, testAccessKey)

	body := fmt.Sprintf(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body><nfeDistDFeInteresseResponse><nfeDistDFeInteresseResult>
    <retDistDFeInt versao="1.01">
      <cStat>138</cStat><xMotivo>Documento localizado</xMotivo>
      <ultNSU>000000000000050</ultNSU><maxNSU>000000000000120</maxNSU>
      <loteDistDFeInt>
        <docZip NSU="000000000000050" schema="procNFe_v4.00.xsd">%s</docZip>
        <docZip NSU="000000000000051" schema="procEventoNFe_v1.00.xsd">%s</docZip>
      </loteDistDFeInt>
    </retDistDFeInt>
  </nfeDistDFeInteresseResult></nfeDistDFeInteresseResponse></soap:Body>
</soap:Envelope>`, gzipBase64(t, proc), gzipBase64(t, "<procEventoNFe/>"))

	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeDistribution],
		httpmock.NewStringResponder(http.StatusOK, body))

	client := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})

	batch, err := client.BulkDistribution(context.Background(), "12.345.678/0001-95", "")
	require.NoError(t, err)

	assert.Equal(t, "000000000000050", batch.LastNSU)
	assert.Equal(t, "000000000000120", batch.MaxNSU)
	assert.True(t, batch.HasMore())
	assert.Equal(t, 1, batch.Skipped, "event receipts are skipped, not fatal")
	require.Len(t, batch.Documents, 1)

	doc := batch.Documents[0]
	assert.Equal(t, testAccessKey, doc.AccessKey)
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.Equal(t, "Fornecedor Ltda", doc.IssuerName)
	assert.Equal(t, "98765432000188", doc.RecipientTaxID)
	assert.Equal(t, "1500.5", doc.TotalAmount.String())
	assert.Equal(t, "270.09", doc.ICMSAmount.String())
	assert.Equal(t, "distribuicao_dfe", doc.Extra["fonte"])
}

func TestBulkDistributionSurfacesRejection(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	body := `<retDistDFeInt versao="1.01">
  <cStat>589</cStat><xMotivo>Rejeicao: CNPJ do interessado invalido</xMotivo>
</retDistDFeInt>`
	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeDistribution],
		httpmock.NewStringResponder(http.StatusOK, body))

	client := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})

	_, err := client.BulkDistribution(context.Background(), "12345678000195", "")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrProtocol))
}

func TestSubmitEventRefusedInPublicMode(t *testing.T) {
	client := newTestClient(t, Options{})

	_, err := client.SubmitEvent(context.Background(), "12345678000195", testAccessKey, EventConfirmOperation, "")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrUnsupportedMode))
}

func TestSubmitEventRequiresJustification(t *testing.T) {
	client := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})

	_, err := client.SubmitEvent(context.Background(), "12345678000195", testAccessKey, EventOperationNotDone, "   ")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrValidation))
}

func TestSubmitEventAccepted(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	body := `<retEnvEvento versao="1.00">
  <cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>
  <retEvento versao="1.00"><infEvento>
    <cStat>135</cStat><xMotivo>Evento registrado e vinculado a NF-e</xMotivo>
    <nProt>135230000099999</nProt>
    <dhRegEvento>2023-01-20T14:00:00-03:00</dhRegEvento>
  </infEvento></retEvento>
</retEnvEvento>`
	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeEvent],
		httpmock.NewStringResponder(http.StatusOK, body))

	client := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})

	ack, err := client.SubmitEvent(context.Background(), "12345678000195", testAccessKey, EventConfirmOperation, "")
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "135", ack.Code)
	assert.Equal(t, "135230000099999", ack.Protocol)
}

// Justifications are capped at 255 characters, not bytes. A byte slice
// through accented text can split a rune and ship invalid UTF-8 to the
// authority.
func TestSubmitEventTruncatesJustificationByRunes(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	body := `<retEnvEvento versao="1.00">
  <cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>
  <retEvento versao="1.00"><infEvento>
    <cStat>135</cStat><xMotivo>Evento registrado e vinculado a NF-e</xMotivo>
    <nProt>135230000099999</nProt>
    <dhRegEvento>2023-01-20T14:00:00-03:00</dhRegEvento>
  </infEvento></retEvento>
</retEnvEvento>`

	var sent string
	httpmock.RegisterResponder(http.MethodPost,
		endpoints["homologation"][endpointNFeEvent],
		func(req *http.Request) (*http.Response, error) {
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			sent = string(raw)
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		})

	client := newTestClient(t, Options{TaxID: "12345678000195", AccessCode: "secret"})

	justification := strings.Repeat("operação não realizada ", 20)
	require.Greater(t, len([]rune(justification)), 255)

	_, err := client.SubmitEvent(context.Background(), "12345678000195", testAccessKey, EventOperationNotDone, justification)
	require.NoError(t, err)

	start := strings.Index(sent, "<xJust>")
	end := strings.Index(sent, "</xJust>")
	require.True(t, start >= 0 && end > start, "envelope must carry a justification")
	sentJust := sent[start+len("<xJust>") : end]

	assert.True(t, utf8.ValidString(sentJust))
	assert.Len(t, []rune(sentJust), 255)
	assert.Equal(t, string([]rune(strings.TrimSpace(justification))[:255]), sentJust)
}

func TestFormatNSU(t *testing.T) {
	assert.Equal(t, "000000000000000", FormatNSU(0))
	assert.Equal(t, "000000000000120", FormatNSU(120))
	assert.Equal(t, InitialNSU, FormatNSU(0))
}

func TestBatchResultHasMore(t *testing.T) {
	done := &BatchResult{LastNSU: "000000000000120", MaxNSU: "000000000000120"}
	assert.False(t, done.HasMore())

	behind := &BatchResult{LastNSU: "000000000000050", MaxNSU: "000000000000120"}
	assert.True(t, behind.HasMore())

	empty := &BatchResult{}
	assert.False(t, empty.HasMore())
}
