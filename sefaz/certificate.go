package sefaz

import (
	"crypto/tls"
	"encoding/pem"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate decodes an A1 certificate bundle (.pfx/PKCS#12) into a TLS
// client certificate usable for mutual TLS against the authority.
func LoadCertificate(pfxData []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(pfxData, password)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "decoding pkcs12 bundle")
	}

	var pemData []byte
	for _, block := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(block)...)
	}

	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "building key pair from pkcs12 bundle")
	}
	return cert, nil
}
