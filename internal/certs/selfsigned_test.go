package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"slices"
	"testing"
	"time"
)

func parse(t *testing.T, c *CertInfo) *x509.Certificate {
	t.Helper()
	if len(c.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	x, err := x509.ParseCertificate(c.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	return x
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	x := parse(t, cert)

	if x.Subject.CommonName != "formatreader" {
		t.Errorf("CN = %q", x.Subject.CommonName)
	}
	if validity := x.NotAfter.Sub(x.NotBefore); validity != 24*time.Hour {
		t.Errorf("validity = %v, want 24h", validity)
	}
	if x.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if len(cert.FingerprintHex()) != 64 || cert.FingerprintBase64() == "" {
		t.Errorf("fingerprint encodings = %q / %q", cert.FingerprintHex(), cert.FingerprintBase64())
	}
	if !slices.Contains(x.DNSNames, "localhost") {
		t.Error("expected localhost in DNS names")
	}
}

func TestGenerateMaxValidity(t *testing.T) {
	t.Parallel()
	for _, v := range []time.Duration{30 * 24 * time.Hour, 0, -time.Hour} {
		cert, err := Generate(v)
		if err != nil {
			t.Fatalf("Generate(%v) failed: %v", v, err)
		}
		x := parse(t, cert)
		if validity := x.NotAfter.Sub(x.NotBefore); validity != maxValidity {
			t.Errorf("Generate(%v) validity = %v, want %v", v, validity, maxValidity)
		}
	}
}

func TestGenerateExtraHosts(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour, "reader.local", "10.1.2.3", "")
	if err != nil {
		t.Fatal(err)
	}
	x := parse(t, cert)
	if !slices.Contains(x.DNSNames, "reader.local") {
		t.Errorf("DNSNames = %v", x.DNSNames)
	}
	found := false
	for _, ip := range x.IPAddresses {
		if ip.String() == "10.1.2.3" {
			found = true
		}
	}
	if !found {
		t.Errorf("IPAddresses = %v", x.IPAddresses)
	}

	cfg := cert.TLSConfig("h3", "h2")
	if len(cfg.Certificates) != 1 || !slices.Equal(cfg.NextProtos, []string{"h3", "h2"}) {
		t.Errorf("TLSConfig = %+v", cfg)
	}
}
