package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// loadOrGenerateHostKey loads an existing SSH host key or generates a new
// RSA-2048 one if it doesn't exist yet (spec.md §6).
func loadOrGenerateHostKey(keyFile string) (ssh.Signer, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("empty key file path")
	}

	// #nosec G304 - keyFile comes from application configuration
	if keyData, err := os.ReadFile(keyFile); err == nil {
		if hostKey, err := ssh.ParsePrivateKey(keyData); err == nil {
			log.Printf("[INFO] using existing SSH host key from %s", keyFile)
			return hostKey, nil
		}
		log.Printf("[WARN] failed to parse existing host key at %s, regenerating", keyFile)
	}

	log.Printf("[INFO] generating new SSH host key at %s", keyFile)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pemBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	keyData := pem.EncodeToMemory(pemBlock)

	// #nosec G304 - keyFile comes from application configuration
	if err := os.WriteFile(keyFile, keyData, 0o600); err != nil {
		log.Printf("[WARN] could not persist SSH host key to %s: %v", keyFile, err)
	}

	hostKey, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated host key: %w", err)
	}
	return hostKey, nil
}

// timeoutConn wraps a net.Conn, failing reads and writes once the
// connection has been idle longer than idleTimeout.
type timeoutConn struct {
	net.Conn
	idleTimeout  time.Duration
	lastActivity time.Time
	mu           sync.Mutex
}

func (c *timeoutConn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *timeoutConn) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity) > c.idleTimeout
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.idle() {
		return 0, fmt.Errorf("idle timeout exceeded")
	}
	n, err := c.Conn.Read(b)
	c.touch()
	return n, err
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if c.idle() {
		return 0, fmt.Errorf("idle timeout exceeded")
	}
	n, err := c.Conn.Write(b)
	c.touch()
	return n, err
}
