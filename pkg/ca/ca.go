// Package ca implements the MITM certificate authority: a
// long-lived, self-signed root that is loaded from disk or minted on
// first use, and per-host leaf certificates minted on demand and
// cached.
package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	rootCertFile = "ca.pem"
	rootKeyFile  = "ca.key.pem"

	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 30 * 24 * time.Hour

	leafCacheCap = 1024
)

// leafEntry is a minted leaf certificate paired with its private key,
// ready to hand to crypto/tls as a tls.Certificate.
type leafEntry struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	tls  tls.Certificate
}

// Authority is the proxy's root certificate authority plus its leaf
// cache. It is long-lived, shared by all connections, and
// read-mostly; the only mutation after construction is leaf minting,
// which is synchronized via an LRU cache and a single-flight group.
type Authority struct {
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	rootTLS  tls.Certificate

	leaves    *lru.Cache[string, *leafEntry]
	mintGroup singleflight.Group
}

// Load loads ca.pem/ca.key.pem from dir if both exist, otherwise mints a
// new self-signed root and writes both files with restrictive
// permissions.
func Load(dir string) (*Authority, error) {
	certPath := filepath.Join(dir, rootCertFile)
	keyPath := filepath.Join(dir, rootKeyFile)

	cert, key, err := loadRoot(certPath, keyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("ca: load root: %w", err)
		}
		cert, key, err = mintRoot()
		if err != nil {
			return nil, fmt.Errorf("ca: mint root: %w", err)
		}
		if err := saveRoot(dir, certPath, keyPath, cert, key); err != nil {
			return nil, fmt.Errorf("ca: save root: %w", err)
		}
	}

	rootTLS, err := toTLSCertificate(cert, key)
	if err != nil {
		return nil, fmt.Errorf("ca: build root tls certificate: %w", err)
	}

	leaves, err := lru.New[string, *leafEntry](leafCacheCap)
	if err != nil {
		return nil, fmt.Errorf("ca: create leaf cache: %w", err)
	}

	return &Authority{
		rootCert: cert,
		rootKey:  key,
		rootTLS:  rootTLS,
		leaves:   leaves,
	}, nil
}

func loadRoot(certPath, keyPath string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("ca: invalid root cert PEM at %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: parse root cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("ca: invalid root key PEM at %s", keyPath)
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: parse root key: %w", err)
	}

	return cert, key, nil
}

func mintRoot() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "magneto CA",
			Organization: []string{"magneto"},
			Country:      []string{"US"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}

func saveRoot(dir, certPath, keyPath string, cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return os.WriteFile(keyPath, keyPEM, 0o600)
}

func toTLSCertificate(cert *x509.Certificate, key *ecdsa.PrivateKey) (tls.Certificate, error) {
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// RootCertPEM returns the PEM encoding of the root certificate, for
// installation instructions and the control surface's API.
func (a *Authority) RootCertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
}

// GetLeaf returns the cached leaf certificate for host, minting and
// caching a new one if needed. Concurrent misses for the same host
// collapse to a single mint via singleflight.
func (a *Authority) GetLeaf(host string) (tls.Certificate, error) {
	if entry, ok := a.leaves.Get(host); ok {
		return entry.tls, nil
	}

	result, err, _ := a.mintGroup.Do(host, func() (any, error) {
		if entry, ok := a.leaves.Get(host); ok {
			return entry, nil
		}
		entry, err := a.mintLeaf(host)
		if err != nil {
			return nil, err
		}
		a.leaves.Add(host, entry)
		return entry, nil
	})
	if err != nil {
		return tls.Certificate{}, err
	}

	return result.(*leafEntry).tls, nil
}

func (a *Authority) mintLeaf(host string) (*leafEntry, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.DNSNames = nil
		tmpl.IPAddresses = []net.IP{ip}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.rootCert, &key.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("ca: mint leaf for %s: %w", host, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der, a.rootCert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &leafEntry{cert: cert, key: key, tls: tlsCert}, nil
}

// TLSConfig returns a server-side tls.Config that mints (or serves from
// cache) a leaf certificate per SNI name, suitable for use right after a
// CONNECT tunnel is established. fallbackHost is used as the leaf's
// CN/SAN when the client's ClientHello carries no SNI (e.g. some non-HTTP
// TLS clients): it should be the host the client CONNECTed to, since that
// is the authority the leaf actually needs to match.
func (a *Authority) TLSConfig(fallbackHost string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// Never negotiate h2: the proxy's upstream dials and client-facing
		// listener both stay on HTTP/1.1.
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = fallbackHost
			}
			cert, err := a.GetLeaf(host)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}
}
