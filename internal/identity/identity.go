// Package identity loads the certificate chain and private key a server presents,
// and the trusted roots a client verifies against.
package identity

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

type CertificateErrorKind int

const (
	// Unreadable means the file could not be opened or read
	Unreadable CertificateErrorKind = iota
	// Malformed means no valid certificate or key structure was found
	Malformed
	// KeyCountMismatch means the key file did not hold exactly one private key
	KeyCountMismatch
)

func (k CertificateErrorKind) String() string {
	switch k {
	case Unreadable:
		return "unreadable"
	case Malformed:
		return "malformed"
	case KeyCountMismatch:
		return "key count mismatch"
	default:
		return fmt.Sprintf("CertificateErrorKind(%d)", int(k))
	}
}

// CertificateError reports structurally unusable certificate or key material
type CertificateError struct {
	Kind CertificateErrorKind
	Path string
	// Count is the number of private keys found, set for KeyCountMismatch
	Count int
	Err   error
}

func (e *CertificateError) Error() string {
	switch e.Kind {
	case Unreadable:
		return fmt.Sprintf("failed to open %v: %v", e.Path, e.Err)
	case KeyCountMismatch:
		return fmt.Sprintf("%v: expected a single private key. got %v", e.Path, e.Count)
	default:
		if e.Err != nil {
			return fmt.Sprintf("failed to load %v: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("failed to load %v", e.Path)
	}
}

func (e *CertificateError) Unwrap() error { return e.Err }

var ErrNoCertificate = errors.New("no certificate found")

const (
	certBlockType = "CERTIFICATE"
	keyBlockType  = "PRIVATE KEY"
)

// ServerIdentity is a certificate chain, leaf first, and the private key of the leaf.
// It is immutable once loaded.
type ServerIdentity struct {
	Chain [][]byte
	Key   crypto.PrivateKey
}

// LoadIdentity reads a PEM certificate chain and a PEM PKCS#8 key file.
// The key file must contain exactly one key.
func LoadIdentity(certPath, keyPath string) (*ServerIdentity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, &CertificateError{Kind: Unreadable, Path: certPath, Err: err}
	}
	chain, err := ParseCertificates(certPEM)
	if err != nil {
		return nil, withPath(err, certPath)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &CertificateError{Kind: Unreadable, Path: keyPath, Err: err}
	}
	keys := ParsePrivateKeys(keyPEM)
	if len(keys) != 1 {
		return nil, &CertificateError{Kind: KeyCountMismatch, Path: keyPath, Count: len(keys)}
	}
	key, err := x509.ParsePKCS8PrivateKey(keys[0])
	if err != nil {
		return nil, &CertificateError{Kind: Malformed, Path: keyPath, Err: err}
	}

	return &ServerIdentity{Chain: chain, Key: key}, nil
}

// LoadRoots reads every certificate in a PEM file into a pool of trusted roots
func LoadRoots(path string) (*x509.CertPool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &CertificateError{Kind: Unreadable, Path: path, Err: err}
	}
	ders, err := ParseCertificates(content)
	if err != nil {
		return nil, withPath(err, path)
	}
	pool := x509.NewCertPool()
	for _, der := range ders {
		// already validated by ParseCertificates
		cert, _ := x509.ParseCertificate(der)
		pool.AddCert(cert)
	}
	return pool, nil
}

// ParseCertificates returns the DER bytes of every CERTIFICATE block in order.
// Other block types are skipped.
func ParseCertificates(pemBytes []byte) ([][]byte, error) {
	var ders [][]byte
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != certBlockType {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, &CertificateError{Kind: Malformed, Err: err}
		}
		ders = append(ders, block.Bytes)
	}
	if len(ders) == 0 {
		return nil, &CertificateError{Kind: Malformed, Err: ErrNoCertificate}
	}
	return ders, nil
}

// ParsePrivateKeys returns the DER bytes of every PKCS#8 PRIVATE KEY block.
// The caller decides how many keys it accepts.
func ParsePrivateKeys(pemBytes []byte) [][]byte {
	var ders [][]byte
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == keyBlockType {
			ders = append(ders, block.Bytes)
		}
	}
	return ders
}

func withPath(err error, path string) error {
	var ce *CertificateError
	if errors.As(err, &ce) {
		ce.Path = path
		return ce
	}
	return err
}
