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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// nfseEndpoints maps IBGE municipality codes to the city hall web service.
// Service invoices are municipal, so each city runs its own endpoint; only
// the municipalities listed here can be polled. Currently São Paulo, Rio de
// Janeiro and Belo Horizonte.
var nfseEndpoints = map[string]string{
	"3550308": "https://nfe.prefeitura.sp.gov.br/ws/lotenfe.asmx",
	"3304557": "https://notacarioca.rio.gov.br/WSNacional/nfse.asmx",
	"3106200": "https://bhissdigital.pbh.gov.br/bhiss-ws/nfse",
}

// NFSeClient polls a single municipality's service-invoice registry. Unlike
// the federal services it needs no credentials, only the provider's tax id.
type NFSeClient struct {
	municipality string
	endpoint     string
	httpClient   *http.Client
}

// NewNFSeClient builds a client for the given IBGE municipality code.
func NewNFSeClient(municipality string, timeout time.Duration) (*NFSeClient, error) {
	endpoint, ok := nfseEndpoints[municipality]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("municipality %s has no registered service-invoice endpoint", municipality), nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NFSeClient{
		municipality: municipality,
		endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// LookupByProvider lists service invoices issued by the provider since the
// given date.
func (c *NFSeClient) LookupByProvider(ctx context.Context, taxID string, since time.Time) ([]model.Document, error) {
	cnpj := model.NormalizeTaxID(taxID)
	body := fmt.Sprintf(`<ConsultarNfseServicoPrestadoEnvio xmlns="http://www.abrasf.org.br/nfse.xsd">
  <Prestador><CpfCnpj><Cnpj>%s</Cnpj></CpfCnpj></Prestador>
  <PeriodoEmissao><DataInicial>%s</DataInicial><DataFinal>%s</DataFinal></PeriodoEmissao>
  <Pagina>1</Pagina>
</ConsultarNfseServicoPrestadoEnvio>`,
		cnpj, since.Format("2006-01-02"), time.Now().UTC().Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransport, "municipal registry unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransport, "reading municipal registry response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierror.NewAPIError(apierror.ErrProtocol,
			fmt.Sprintf("municipal registry returned status %d", resp.StatusCode), nil)
	}
	return c.parseServiceInvoices(string(raw))
}

type compNfse struct {
	Nfse struct {
		InfNfse struct {
			Numero            string `xml:"Numero"`
			CodigoVerificacao string `xml:"CodigoVerificacao"`
			DataEmissao       string `xml:"DataEmissao"`
			Servico           struct {
				Valores struct {
					ValorServicos string `xml:"ValorServicos"`
					ValorIss      string `xml:"ValorIss"`
				} `xml:"Valores"`
				Discriminacao string `xml:"Discriminacao"`
			} `xml:"Servico"`
			PrestadorServico struct {
				IdentificacaoPrestador struct {
					Cnpj string `xml:"Cnpj"`
				} `xml:"IdentificacaoPrestador"`
				RazaoSocial string `xml:"RazaoSocial"`
			} `xml:"PrestadorServico"`
			TomadorServico struct {
				IdentificacaoTomador struct {
					CpfCnpj struct {
						Cnpj string `xml:"Cnpj"`
						Cpf  string `xml:"Cpf"`
					} `xml:"CpfCnpj"`
				} `xml:"IdentificacaoTomador"`
				RazaoSocial string `xml:"RazaoSocial"`
			} `xml:"TomadorServico"`
		} `xml:"InfNfse"`
	} `xml:"Nfse"`
}

type consultaNfseResposta struct {
	Comps []compNfse `xml:"ListaNfse>CompNfse"`
}

// parseServiceInvoices maps the municipal response onto canonical documents.
// Service invoices have no federal access key, so a deterministic synthetic
// key is derived from the municipality and invoice number to satisfy the
// per-organization uniqueness constraint.
func (c *NFSeClient) parseServiceInvoices(raw string) ([]model.Document, error) {
	var resp consultaNfseResposta
	if err := findElement(raw, "ConsultarNfseServicoPrestadoResposta", &resp); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProtocol, "malformed municipal registry response", err)
	}

	docs := make([]model.Document, 0, len(resp.Comps))
	for _, comp := range resp.Comps {
		inf := comp.Nfse.InfNfse
		if inf.Numero == "" {
			continue
		}

		recipient := inf.TomadorServico.IdentificacaoTomador.CpfCnpj.Cnpj
		if recipient == "" {
			recipient = inf.TomadorServico.IdentificacaoTomador.CpfCnpj.Cpf
		}

		number := inf.Numero
		if len(number) < 15 {
			number = strings.Repeat("0", 15-len(number)) + number
		}

		doc := model.Document{
			Kind:           model.KindNFSe,
			AccessKey:      fmt.Sprintf("SE%s%s", c.municipality, number),
			Number:         inf.Numero,
			ModelCode:      "SE",
			IssuerTaxID:    inf.PrestadorServico.IdentificacaoPrestador.Cnpj,
			IssuerName:     inf.PrestadorServico.RazaoSocial,
			RecipientTaxID: recipient,
			RecipientName:  inf.TomadorServico.RazaoSocial,
			TotalAmount:    parseAmount(inf.Servico.Valores.ValorServicos),
			ISSAmount:      parseAmount(inf.Servico.Valores.ValorIss),
			IssuedAt:       parseTime(inf.DataEmissao),
			Status:         model.StatusAuthorized,
			Protocol:       inf.CodigoVerificacao,
			Operation:      inf.Servico.Discriminacao,
			RawXML:         raw,
			Extra: map[string]interface{}{
				"fonte":        "nfse_municipal",
				"municipality": c.municipality,
			},
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
