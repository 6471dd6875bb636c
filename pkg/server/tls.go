package server

import (
	"context"
	"crypto/tls"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// certReloader serves the most recently loaded key pair. A failed reload
// keeps the previous certificate.
type certReloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertReloader(certPath, keyPath string) *certReloader {
	return &certReloader{certPath: certPath, keyPath: keyPath}
}

func (r *certReloader) Load() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errors.New("no TLS certificate loaded")
	}
	return r.cert, nil
}

// Watch reloads the key pair whenever either file changes until ctx is done.
// The parent directories are watched so atomic renames (as done by secret
// mounts) are seen.
func (r *certReloader) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("failed to create fsnotify watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	names := map[string]bool{
		filepath.Clean(r.certPath): true,
		filepath.Clean(r.keyPath):  true,
	}
	for dir := range map[string]bool{filepath.Dir(r.certPath): true, filepath.Dir(r.keyPath): true} {
		if err := watcher.Add(dir); err != nil {
			zap.L().Error("failed to watch TLS directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !names[filepath.Clean(event.Name)] || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Load(); err != nil {
				zap.L().Warn("TLS certificate reload failed, keeping previous", zap.Error(err))
				continue
			}
			zap.L().Info("TLS certificate reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("watcher error", zap.Error(err))
		}
	}
}
