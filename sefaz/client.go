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
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/internal/cache"
	"github.com/dfewatch/dfewatch/model"
)

// AuthMode identifies how the client authenticates against the authority.
// The mode is decided once at construction and never changes for the life of
// the client.
type AuthMode string

const (
	// ModePublic performs unauthenticated single-document lookups only.
	ModePublic AuthMode = "public"
	// ModeAccessCode uses a shared access code for read-only bulk access.
	ModeAccessCode AuthMode = "access_code"
	// ModeCertificate uses a client TLS certificate for full protocol access.
	ModeCertificate AuthMode = "certificate"
)

// InitialNSU is the distribution cursor for a monitor that has never synced.
const InitialNSU = "000000000000000"

// transportRetries is the number of retries after the first attempt for
// network-level failures. Protocol rejections are never retried.
const transportRetries = 2

// Options carries the credentials and environment used to build a Client.
// Credentials select the auth mode: a certificate wins over an access code,
// an access code (with a tax id) wins over nothing.
type Options struct {
	Environment  string
	Timeout      time.Duration
	TaxID        string
	AccessCode   string
	CertPFX      []byte
	CertPassword string
	CertPath     string
	Cache        cache.Cache
}

// Client speaks the authority's SOAP dialect. A Client holds a lazily built,
// mode-dependent transport that is reused across calls; callers must Close it
// when done because certificate-bound transports differ per organization.
type Client struct {
	env          string
	endpoints    map[string]string
	timeout      time.Duration
	taxID        string
	accessCode   string
	certPFX      []byte
	certPassword string
	certPath     string
	mode         AuthMode
	cache        cache.Cache

	mu         sync.Mutex
	httpClient *http.Client
}

// NewClient builds a Client for the given environment and credentials. The
// auth mode is computed here, once, so callers can branch on Mode() before
// attempting an operation their credentials cannot support.
func NewClient(opts Options) (*Client, error) {
	env := opts.Environment
	if env == "" {
		env = config.EnvironmentHomologation
	}
	urls, ok := endpoints[env]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("unknown environment %q", env), nil)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		env:          env,
		endpoints:    urls,
		timeout:      timeout,
		taxID:        model.NormalizeTaxID(opts.TaxID),
		accessCode:   opts.AccessCode,
		certPFX:      opts.CertPFX,
		certPassword: opts.CertPassword,
		certPath:     opts.CertPath,
		cache:        opts.Cache,
	}
	c.mode = c.detectMode()
	logrus.WithFields(logrus.Fields{"mode": c.mode, "environment": env}).Info("sefaz client initialized")
	return c, nil
}

func (c *Client) detectMode() AuthMode {
	if len(c.certPFX) > 0 {
		return ModeCertificate
	}
	if c.certPath != "" {
		if _, err := os.Stat(c.certPath); err == nil {
			return ModeCertificate
		}
	}
	if c.taxID != "" && c.accessCode != "" {
		return ModeAccessCode
	}
	return ModePublic
}

// Mode returns the auth mode decided at construction.
func (c *Client) Mode() AuthMode {
	return c.mode
}

// CanBulkDistribution reports whether the distribution feed is available in
// the client's mode.
func (c *Client) CanBulkDistribution() bool {
	return c.mode == ModeCertificate || c.mode == ModeAccessCode
}

// CanSubmitEvents reports whether manifestation events can be submitted in
// the client's mode.
func (c *Client) CanSubmitEvents() bool {
	return c.mode != ModePublic
}

// Close releases the transport. The client must not be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

// transport lazily builds the HTTP client. In certificate mode the transport
// carries the organization's client certificate.
func (c *Client) transport() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		return c.httpClient, nil
	}

	client := &http.Client{Timeout: c.timeout}
	if c.mode == ModeCertificate {
		pfx := c.certPFX
		if len(pfx) == 0 {
			data, err := os.ReadFile(c.certPath)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrValidation, "certificate file unreadable", err)
			}
			pfx = data
		}
		cert, err := LoadCertificate(pfx, c.certPassword)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrValidation, "invalid client certificate", err)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		}
	}
	c.httpClient = client
	return client, nil
}

// soapEnvelope wraps a message body in the authority's SOAP 1.2 envelope for
// the given service action.
func (c *Client) soapEnvelope(bodyXML, action string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope
    xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
    xmlns:xsd="http://www.w3.org/2001/XMLSchema"
    xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <soapenv:Header>
    <nfeCabecMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/%s">
      <cUF>AN</cUF><versaoDados>4.00</versaoDados>
    </nfeCabecMsg>
  </soapenv:Header>
  <soapenv:Body>
    <nfeDadosMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/%s">%s</nfeDadosMsg>
  </soapenv:Body>
</soapenv:Envelope>`, action, action, bodyXML)
}

// soapPost sends a SOAP envelope and returns the raw response body.
// Connection-level failures are retried with exponential backoff; HTTP error
// statuses surface immediately as protocol errors, since retrying a malformed
// request only wastes a round trip against a rate-limited endpoint.
func (c *Client) soapPost(ctx context.Context, url, envelope, soapAction string) (string, error) {
	client, err := c.transport()
	if err != nil {
		return "", err
	}

	var raw string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(envelope))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", soapAction)

		resp, err := client.Do(req)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrTransport, "authority unreachable", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrTransport, "reading authority response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(apierror.NewAPIError(apierror.ErrProtocol,
				fmt.Sprintf("authority returned status %d", resp.StatusCode), nil))
		}
		raw = string(body)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 8 * time.Second
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, transportRetries), ctx))
	if err != nil {
		return "", err
	}
	return raw, nil
}

// LookupByKey fetches a single document by its access key. It works in every
// mode: certificate mode queries the authority over the authenticated
// transport, public mode over a plain one. On any network or parse failure
// the lookup degrades to offline decoding of the key itself, which yields a
// minimal document in processing status. For a well-formed key this method
// never fails.
func (c *Client) LookupByKey(ctx context.Context, accessKey string) ([]model.Document, error) {
	if err := model.ValidateAccessKey(accessKey); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, err.Error(), err)
	}

	cacheKey := "sefaz:lookup:" + accessKey
	if c.cache != nil {
		var cached []model.Document
		if err := c.cache.Get(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	doc, err := c.lookupOnline(ctx, accessKey)
	if err != nil {
		logrus.WithError(err).WithField("access_key", accessKey).
			Warn("authority lookup failed, decoding key offline")
		offline, decErr := model.DecodeAccessKey(accessKey)
		if decErr != nil {
			return nil, apierror.NewAPIError(apierror.ErrValidation, decErr.Error(), decErr)
		}
		return []model.Document{*offline}, nil
	}

	docs := []model.Document{*doc}
	if c.cache != nil {
		_ = c.cache.Set(ctx, cacheKey, docs, 5*time.Minute)
	}
	return docs, nil
}

func (c *Client) lookupOnline(ctx context.Context, accessKey string) (*model.Document, error) {
	body := fmt.Sprintf(`<consSitNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <tpAmb>%d</tpAmb><xServ>CONSULTAR</xServ><chNFe>%s</chNFe>
</consSitNFe>`, c.ambientCode(), accessKey)

	raw, err := c.soapPost(ctx,
		c.endpoints[endpointNFeLookup],
		c.soapEnvelope(body, "NFeConsultaProtocolo4"),
		"http://www.portalfiscal.inf.br/nfe/wsdl/NFeConsultaProtocolo4/nfeConsultaNF")
	if err != nil {
		return nil, err
	}
	return parseLookupResponse(raw, accessKey)
}

// BatchResult is one page of the distribution feed. LastNSU is the advanced
// cursor, MaxNSU the highest sequence the server knows about; callers must
// keep paging until the cursor catches up.
type BatchResult struct {
	LastNSU   string
	MaxNSU    string
	Documents []model.Document
	Skipped   int
}

// HasMore reports whether another page must be fetched to drain the feed.
func (b *BatchResult) HasMore() bool {
	return nsuValue(b.LastNSU) < nsuValue(b.MaxNSU)
}

func nsuValue(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// FormatNSU renders a sequence number in the authority's fixed 15-digit form.
func FormatNSU(n uint64) string {
	return fmt.Sprintf("%015d", n)
}

// BulkDistribution fetches one page of new or changed documents for the tax
// id since lastNSU. Only certificate and access-code modes may call it;
// public mode fails immediately without touching the network. Sub-documents
// that cannot be decompressed or routed to a parser are skipped, not fatal.
func (c *Client) BulkDistribution(ctx context.Context, taxID, lastNSU string) (*BatchResult, error) {
	if !c.CanBulkDistribution() {
		return nil, apierror.NewAPIError(apierror.ErrUnsupportedMode,
			"bulk distribution requires a client certificate or an access code", nil)
	}

	cnpj := model.NormalizeTaxID(taxID)
	if lastNSU == "" {
		lastNSU = InitialNSU
	}

	accessCode := ""
	if c.mode == ModeAccessCode {
		accessCode = fmt.Sprintf("\n  <codAcesso>%s</codAcesso>", c.accessCode)
	}
	body := fmt.Sprintf(`<distDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">
  <tpAmb>%d</tpAmb>
  <cUFAutor>91</cUFAutor>
  <CNPJ>%s</CNPJ>%s
  <distNSU><ultNSU>%s</ultNSU></distNSU>
</distDFeInt>`, c.ambientCode(), cnpj, accessCode, lastNSU)

	raw, err := c.soapPost(ctx,
		c.endpoints[endpointNFeDistribution],
		c.soapEnvelope(body, "NFeDistribuicaoDFe"),
		"http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe/nfeDistDFeInteresse")
	if err != nil {
		return nil, err
	}
	return parseDistribution(raw)
}

// EventAck is the authority's answer to a submitted manifestation event.
type EventAck struct {
	Accepted     bool   `json:"accepted"`
	Code         string `json:"code"`
	Reason       string `json:"reason"`
	Protocol     string `json:"protocol"`
	RegisteredAt string `json:"registered_at"`
}

// SubmitEvent sends a manifestation event for the given document. Public mode
// cannot submit events. Event types that require a justification are
// validated before any envelope is built; justifications are truncated at 255
// characters, the authority's limit.
func (c *Client) SubmitEvent(ctx context.Context, taxID, accessKey string, eventType EventType, justification string) (*EventAck, error) {
	if !c.CanSubmitEvents() {
		return nil, apierror.NewAPIError(apierror.ErrUnsupportedMode,
			"event submission requires a client certificate or an access code", nil)
	}
	if err := model.ValidateAccessKey(accessKey); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, err.Error(), err)
	}
	justification = strings.TrimSpace(justification)
	if eventType.RequiresJustification() && justification == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("event %s requires a justification", eventType), nil)
	}
	// The 255 limit counts characters, and accented Portuguese is common in
	// justifications; slicing bytes could cut a rune in half and corrupt the
	// envelope.
	if runes := []rune(justification); len(runes) > 255 {
		justification = string(runes[:255])
	}

	justXML := ""
	if eventType.RequiresJustification() {
		justXML = fmt.Sprintf("<xJust>%s</xJust>", justification)
	}

	cnpj := model.NormalizeTaxID(taxID)
	eventTime := time.Now().UTC().Format("2006-01-02T15:04:05-07:00")

	infEvento := fmt.Sprintf(`<infEvento Id="ID%s%s01">
  <cOrgao>91</cOrgao><tpAmb>%d</tpAmb>
  <CNPJ>%s</CNPJ><chNFe>%s</chNFe>
  <dhEvento>%s</dhEvento><tpEvento>%s</tpEvento>
  <nSeqEvento>1</nSeqEvento><verEvento>1.00</verEvento>
  <detEvento versao="1.00"><descEvento>%s</descEvento>%s</detEvento>
</infEvento>`, eventType, accessKey, c.ambientCode(), cnpj, accessKey, eventTime, eventType, eventType.Description(), justXML)

	body := fmt.Sprintf(`<envEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">
  <idLote>1</idLote>
  <evento versao="1.00">%s</evento>
</envEvento>`, infEvento)

	raw, err := c.soapPost(ctx,
		c.endpoints[endpointNFeEvent],
		c.soapEnvelope(body, "NFeRecepcaoEvento4"),
		"http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4/nfeRecepcaoEvento")
	if err != nil {
		return nil, err
	}
	return parseEventResponse(raw)
}

// ambientCode is the authority's numeric environment flag: 1 production,
// 2 homologation.
func (c *Client) ambientCode() int {
	if c.env == config.EnvironmentProduction {
		return 1
	}
	return 2
}
