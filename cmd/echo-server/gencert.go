package main

import (
	"os"
	"strings"
	"time"

	"github.com/cbeuw/tlsecho/internal/common"
)

const certValidity = 365 * 24 * time.Hour

func writeSelfSigned(hosts string, certPath, keyPath string) error {
	certPEM, keyPEM, err := common.GenerateSelfSigned(common.RealWorldState, certValidity, strings.Split(hosts, ",")...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, keyPEM, 0600)
}
