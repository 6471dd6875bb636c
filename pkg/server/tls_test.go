package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeKeyPair(t *testing.T, dir, cn string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func commonName(t *testing.T, r *certReloader) string {
	t.Helper()
	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestCertReloaderKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir, "first")

	r := newCertReloader(certPath, keyPath)
	_, err := r.GetCertificate(nil)
	require.Error(t, err)

	require.NoError(t, r.Load())
	require.Equal(t, "first", commonName(t, r))

	require.NoError(t, os.WriteFile(keyPath, []byte("garbage"), 0o600))
	require.Error(t, r.Load())
	require.Equal(t, "first", commonName(t, r))
}

func TestCertReloaderWatchPicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeKeyPair(t, dir, "first")

	r := newCertReloader(certPath, keyPath)
	require.NoError(t, r.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Watch(ctx)

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeKeyPair(t, dir, "second")

	require.Eventually(t, func() bool {
		cert, err := r.GetCertificate(nil)
		if err != nil {
			return false
		}
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		return err == nil && leaf.Subject.CommonName == "second"
	}, 5*time.Second, 20*time.Millisecond)
}
