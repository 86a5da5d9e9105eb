package common

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"
)

var RealWorldState = WorldState{
	Rand: rand.Reader,
	Now:  time.Now,
}

// WorldState holds the sources of randomness and time used when minting key material
type WorldState struct {
	Rand io.Reader
	Now  func() time.Time
}

func WorldOfTime(t time.Time) WorldState {
	return WorldState{
		Rand: rand.Reader,
		Now:  func() time.Time { return t },
	}
}

var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// GenerateSelfSigned mints a P-256 certificate valid for hosts (DNS names or IP literals)
// starting at world.Now() and lasting validity. It returns the PEM encoded certificate
// and the PEM encoded PKCS#8 private key.
func GenerateSelfSigned(world WorldState, validity time.Duration, hosts ...string) (certPEM []byte, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("at least one host is required")
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), world.Rand)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	sn, err := rand.Int(world.Rand, serialLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := world.Now()
	template := x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			Organization: []string{"tlsecho"},
			CommonName:   hosts[0],
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(world.Rand, &template, &template, priv.Public(), priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return certPEM, keyPEM, nil
}
