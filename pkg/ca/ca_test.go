package ca

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMintsRootOnFirstUse(t *testing.T) {
	dir := t.TempDir()

	a, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, a)

	block, _ := pem.Decode(a.RootCertPEM())
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, "magneto CA", cert.Subject.CommonName)

	assert.FileExists(t, filepath.Join(dir, rootCertFile))
	assert.FileExists(t, filepath.Join(dir, rootKeyFile))
}

func TestLoadReusesExistingRoot(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	require.NoError(t, err)

	second, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, first.RootCertPEM(), second.RootCertPEM())
}

func TestGetLeafMintsAndCaches(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir)
	require.NoError(t, err)

	leaf1, err := a.GetLeaf("example.com")
	require.NoError(t, err)
	require.NotNil(t, leaf1.Leaf)
	assert.Equal(t, "example.com", leaf1.Leaf.Subject.CommonName)
	assert.Contains(t, leaf1.Leaf.DNSNames, "example.com")

	leaf2, err := a.GetLeaf("example.com")
	require.NoError(t, err)
	assert.Equal(t, leaf1.Leaf.SerialNumber, leaf2.Leaf.SerialNumber)
}

func TestGetLeafForIPUsesIPSAN(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir)
	require.NoError(t, err)

	leaf, err := a.GetLeaf("127.0.0.1")
	require.NoError(t, err)
	require.Len(t, leaf.Leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.Leaf.IPAddresses[0].String())
}

func TestTLSConfigAdvertisesHTTP11Only(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir)
	require.NoError(t, err)

	cfg := a.TLSConfig("example.com")
	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
}

func TestTLSConfigUsesSNIWhenPresent(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir)
	require.NoError(t, err)

	cfg := a.TLSConfig("fallback.example")
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{ServerName: "sni.example"})
	require.NoError(t, err)
	assert.Equal(t, "sni.example", cert.Leaf.Subject.CommonName)
}

func TestTLSConfigFallsBackToConnectTargetWithoutSNI(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(dir)
	require.NoError(t, err)

	cfg := a.TLSConfig("connect-target.example")
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, "connect-target.example", cert.Leaf.Subject.CommonName)
	assert.Contains(t, cert.Leaf.DNSNames, "connect-target.example")
}
