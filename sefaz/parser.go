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
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dfewatch/dfewatch/internal/apierror"
	"github.com/dfewatch/dfewatch/model"
)

// findElement scans raw XML for the first element with the given local name
// and decodes it into v. Matching on local names keeps the parsers immune to
// the namespace prefixes the authority's SOAP stacks vary between responses.
func findElement(raw, local string, v interface{}) error {
	dec := xml.NewDecoder(strings.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return fmt.Errorf("element %s not found in response", local)
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == local {
			return dec.DecodeElement(v, &se)
		}
	}
}

type infProt struct {
	ChNFe    string `xml:"chNFe"`
	ChCTe    string `xml:"chCTe"`
	DhRecbto string `xml:"dhRecbto"`
	NProt    string `xml:"nProt"`
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
}

type protWrapper struct {
	InfProt infProt `xml:"infProt"`
}

type retConsSitNFe struct {
	CStat   string      `xml:"cStat"`
	XMotivo string      `xml:"xMotivo"`
	ProtNFe protWrapper `xml:"protNFe"`
}

// parseLookupResponse turns a protocol-lookup response into a document. The
// lookup service only returns lifecycle state, so the descriptive fields come
// from decoding the access key and the response overlays status, protocol and
// timestamps on top.
func parseLookupResponse(raw, accessKey string) (*model.Document, error) {
	var ret retConsSitNFe
	if err := findElement(raw, "retConsSitNFe", &ret); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProtocol, "malformed lookup response", err)
	}

	code := ret.ProtNFe.InfProt.CStat
	if code == "" {
		code = ret.CStat
	}
	status := StatusFromCode(code)
	reason := ret.ProtNFe.InfProt.XMotivo
	if reason == "" {
		reason = ret.XMotivo
	}

	// Codes outside the lifecycle table with no protocol attached mean the
	// authority does not know the key. Surfacing an error here lets the
	// caller fall back to offline decoding.
	if status == model.StatusProcessing && ret.ProtNFe.InfProt.NProt == "" && code != "105" {
		return nil, apierror.NewAPIError(apierror.ErrProtocol,
			fmt.Sprintf("authority rejected lookup: %s %s", code, reason), nil)
	}

	doc, err := model.DecodeAccessKey(accessKey)
	if err != nil {
		return nil, err
	}
	doc.Status = status
	doc.Protocol = ret.ProtNFe.InfProt.NProt
	doc.StatusReason = reason
	doc.Extra["fonte"] = "consulta_protocolo"
	if status == model.StatusAuthorized {
		if t := parseTime(ret.ProtNFe.InfProt.DhRecbto); !t.IsZero() {
			doc.AuthorizedAt = &t
		}
	}
	return doc, nil
}

type docZip struct {
	NSU     string `xml:"NSU,attr"`
	Schema  string `xml:"schema,attr"`
	Content string `xml:",chardata"`
}

type retDistDFeInt struct {
	CStat   string `xml:"cStat"`
	XMotivo string `xml:"xMotivo"`
	UltNSU  string `xml:"ultNSU"`
	MaxNSU  string `xml:"maxNSU"`
	Lote    struct {
		Docs []docZip `xml:"docZip"`
	} `xml:"loteDistDFeInt"`
}

// parseDistribution turns one distribution page into a BatchResult. Each
// sub-document is independently base64-decoded, gunzipped and routed to a
// schema parser; one broken entry must never sink a whole batch, so failures
// are logged and counted as skipped.
func parseDistribution(raw string) (*BatchResult, error) {
	var ret retDistDFeInt
	if err := findElement(raw, "retDistDFeInt", &ret); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProtocol, "malformed distribution response", err)
	}

	// 137 is "no documents", 138 is "documents found". Anything else is a
	// rejection.
	if ret.CStat != "137" && ret.CStat != "138" {
		return nil, apierror.NewAPIError(apierror.ErrProtocol,
			fmt.Sprintf("authority rejected distribution: %s %s", ret.CStat, ret.XMotivo), nil)
	}

	result := &BatchResult{LastNSU: ret.UltNSU, MaxNSU: ret.MaxNSU}
	for _, entry := range ret.Lote.Docs {
		doc, err := decodeDocZip(entry)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"nsu":    entry.NSU,
				"schema": entry.Schema,
			}).Warn("skipping undecodable distribution entry")
			result.Skipped++
			continue
		}
		if doc == nil {
			// Event receipts and other non-document schemas.
			result.Skipped++
			continue
		}
		result.Documents = append(result.Documents, *doc)
	}
	return result, nil
}

func decodeDocZip(entry docZip) (*model.Document, error) {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(entry.Content))
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	_ = zr.Close()

	schema := entry.Schema
	switch {
	case strings.Contains(schema, "procNFe"), strings.Contains(schema, "nfeProc"):
		return parseNFeProc(string(payload))
	case strings.Contains(schema, "procCTe"), strings.Contains(schema, "cteProc"):
		return parseCTeProc(string(payload))
	case strings.Contains(schema, "resNFe"):
		return parseResNFe(string(payload))
	default:
		return nil, nil
	}
}

type xmlParty struct {
	CNPJ  string `xml:"CNPJ"`
	CPF   string `xml:"CPF"`
	XNome string `xml:"xNome"`
}

func (p xmlParty) taxID() string {
	if p.CNPJ != "" {
		return p.CNPJ
	}
	return p.CPF
}

type xmlIde struct {
	Mod   string `xml:"mod"`
	Serie string `xml:"serie"`
	NNF   string `xml:"nNF"`
	NCT   string `xml:"nCT"`
	DhEmi string `xml:"dhEmi"`
	DEmi  string `xml:"dEmi"`
	NatOp string `xml:"natOp"`
	CFOP  string `xml:"CFOP"`
}

type nfeProc struct {
	NFe struct {
		InfNFe struct {
			ID    string   `xml:"Id,attr"`
			Ide   xmlIde   `xml:"ide"`
			Emit  xmlParty `xml:"emit"`
			Dest  xmlParty `xml:"dest"`
			Total struct {
				ICMSTot struct {
					VNF   string `xml:"vNF"`
					VICMS string `xml:"vICMS"`
					VIPI  string `xml:"vIPI"`
				} `xml:"ICMSTot"`
			} `xml:"total"`
		} `xml:"infNFe"`
	} `xml:"NFe"`
	ProtNFe protWrapper `xml:"protNFe"`
}

func parseNFeProc(payload string) (*model.Document, error) {
	var proc nfeProc
	if err := findElement(payload, "nfeProc", &proc); err != nil {
		return nil, err
	}
	inf := proc.NFe.InfNFe
	prot := proc.ProtNFe.InfProt

	key := prot.ChNFe
	if key == "" {
		key = strings.TrimPrefix(inf.ID, "NFe")
	}
	if err := model.ValidateAccessKey(key); err != nil {
		return nil, err
	}

	issuedAt := parseTime(inf.Ide.DhEmi)
	if issuedAt.IsZero() {
		issuedAt = parseTime(inf.Ide.DEmi)
	}

	doc := &model.Document{
		Kind:           model.KindNFe,
		AccessKey:      key,
		Number:         strings.TrimLeft(inf.Ide.NNF, "0"),
		Series:         inf.Ide.Serie,
		ModelCode:      inf.Ide.Mod,
		IssuerTaxID:    inf.Emit.taxID(),
		IssuerName:     inf.Emit.XNome,
		RecipientTaxID: inf.Dest.taxID(),
		RecipientName:  inf.Dest.XNome,
		TotalAmount:    parseAmount(inf.Total.ICMSTot.VNF),
		ICMSAmount:     parseAmount(inf.Total.ICMSTot.VICMS),
		IPIAmount:      parseAmount(inf.Total.ICMSTot.VIPI),
		IssuedAt:       issuedAt,
		Status:         StatusFromCode(prot.CStat),
		Protocol:       prot.NProt,
		StatusReason:   prot.XMotivo,
		Operation:      inf.Ide.NatOp,
		RawXML:         payload,
		Extra:          map[string]interface{}{"fonte": "distribuicao_dfe"},
	}
	if doc.Status == model.StatusAuthorized {
		if t := parseTime(prot.DhRecbto); !t.IsZero() {
			doc.AuthorizedAt = &t
		}
	}
	return doc, nil
}

type cteProc struct {
	CTe struct {
		InfCte struct {
			ID    string   `xml:"Id,attr"`
			Ide   xmlIde   `xml:"ide"`
			Emit  xmlParty `xml:"emit"`
			Dest  xmlParty `xml:"dest"`
			Prest struct {
				VTPrest string `xml:"vTPrest"`
			} `xml:"vPrest"`
		} `xml:"infCte"`
	} `xml:"CTe"`
	ProtCTe protWrapper `xml:"protCTe"`
}

func parseCTeProc(payload string) (*model.Document, error) {
	var proc cteProc
	if err := findElement(payload, "cteProc", &proc); err != nil {
		return nil, err
	}
	inf := proc.CTe.InfCte
	prot := proc.ProtCTe.InfProt

	key := prot.ChCTe
	if key == "" {
		key = strings.TrimPrefix(inf.ID, "CTe")
	}
	if err := model.ValidateAccessKey(key); err != nil {
		return nil, err
	}

	doc := &model.Document{
		Kind:           model.KindCTe,
		AccessKey:      key,
		Number:         strings.TrimLeft(inf.Ide.NCT, "0"),
		Series:         inf.Ide.Serie,
		ModelCode:      inf.Ide.Mod,
		IssuerTaxID:    inf.Emit.taxID(),
		IssuerName:     inf.Emit.XNome,
		RecipientTaxID: inf.Dest.taxID(),
		RecipientName:  inf.Dest.XNome,
		TotalAmount:    parseAmount(inf.Prest.VTPrest),
		IssuedAt:       parseTime(inf.Ide.DhEmi),
		Status:         StatusFromCode(prot.CStat),
		Protocol:       prot.NProt,
		StatusReason:   prot.XMotivo,
		Operation:      inf.Ide.NatOp,
		CFOP:           inf.Ide.CFOP,
		RawXML:         payload,
		Extra:          map[string]interface{}{"fonte": "distribuicao_dfe"},
	}
	if doc.Status == model.StatusAuthorized {
		if t := parseTime(prot.DhRecbto); !t.IsZero() {
			doc.AuthorizedAt = &t
		}
	}
	return doc, nil
}

type resNFe struct {
	ChNFe   string `xml:"chNFe"`
	CNPJ    string `xml:"CNPJ"`
	XNome   string `xml:"xNome"`
	DhEmi   string `xml:"dhEmi"`
	VNF     string `xml:"vNF"`
	CSitNFe string `xml:"cSitNFe"`
	NProt   string `xml:"nProt"`
}

// resNFe situation flags: 1 authorized, 2 denied, 3 cancelled.
var resSituation = map[string]string{
	"1": model.StatusAuthorized,
	"2": model.StatusDenied,
	"3": model.StatusCancelled,
}

// parseResNFe handles the slim summary schema the feed delivers before the
// recipient manifests interest in the full document.
func parseResNFe(payload string) (*model.Document, error) {
	var res resNFe
	if err := findElement(payload, "resNFe", &res); err != nil {
		return nil, err
	}
	if err := model.ValidateAccessKey(res.ChNFe); err != nil {
		return nil, err
	}

	doc, err := model.DecodeAccessKey(res.ChNFe)
	if err != nil {
		return nil, err
	}
	doc.IssuerTaxID = res.CNPJ
	doc.IssuerName = res.XNome
	doc.TotalAmount = parseAmount(res.VNF)
	doc.Protocol = res.NProt
	if t := parseTime(res.DhEmi); !t.IsZero() {
		doc.IssuedAt = t
	}
	if status, ok := resSituation[res.CSitNFe]; ok {
		doc.Status = status
	}
	doc.StatusReason = "summary from distribution feed"
	doc.Extra = map[string]interface{}{"fonte": "resumo_nfe"}
	return doc, nil
}

type retEnvEvento struct {
	CStat     string `xml:"cStat"`
	XMotivo   string `xml:"xMotivo"`
	RetEvento struct {
		InfEvento struct {
			CStat       string `xml:"cStat"`
			XMotivo     string `xml:"xMotivo"`
			NProt       string `xml:"nProt"`
			DhRegEvento string `xml:"dhRegEvento"`
		} `xml:"infEvento"`
	} `xml:"retEvento"`
}

func parseEventResponse(raw string) (*EventAck, error) {
	var ret retEnvEvento
	if err := findElement(raw, "retEnvEvento", &ret); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProtocol, "malformed event response", err)
	}

	inf := ret.RetEvento.InfEvento
	code := inf.CStat
	reason := inf.XMotivo
	if code == "" {
		code = ret.CStat
		reason = ret.XMotivo
	}
	return &EventAck{
		Accepted:     code == "135" || code == "136",
		Code:         code,
		Reason:       reason,
		Protocol:     inf.NProt,
		RegisteredAt: inf.DhRegEvento,
	}, nil
}

func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
