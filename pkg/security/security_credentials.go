// Package security builds Daraja B2C security credentials.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var ErrNoCertificate = errors.New("no M-Pesa certificate configured")

// Encrypter turns an initiator password into a SecurityCredential using the
// public key of the Safaricom certificate.
type Encrypter struct {
	publicKey *rsa.PublicKey
}

// LoadEncrypter reads a PEM certificate from certPath.
func LoadEncrypter(certPath string) (*Encrypter, error) {
	if certPath == "" {
		return nil, ErrNoCertificate
	}
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return ParseEncrypter(certData)
}

// ParseEncrypter parses PEM certificate bytes.
func ParseEncrypter(certPEM []byte) (*Encrypter, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("decode certificate: no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not contain an RSA public key")
	}
	return &Encrypter{publicKey: publicKey}, nil
}

// SecurityCredential encrypts the password with RSA PKCS#1 v1.5 and base64 encodes it.
func (e *Encrypter) SecurityCredential(initiatorPassword string) (string, error) {
	if e == nil {
		return "", ErrNoCertificate
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, e.publicKey, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("encrypt initiator password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}
