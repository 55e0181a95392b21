package identity

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/jamestomasino-forks/kristall/cert"
)

// Identity is a client certificate and private key presented to Gemini
// servers that ask for one. Transient identities live for the session
// only and cannot be restored once cleared.
type Identity struct {
	Certificate tls.Certificate
	DisplayName string
	Persistent  bool
}

// Valid reports whether the identity carries both a certificate and a
// matching private key.
func (id *Identity) Valid() bool {
	if id == nil || len(id.Certificate.Certificate) == 0 || id.Certificate.PrivateKey == nil {
		return false
	}
	leaf, err := x509.ParseCertificate(id.Certificate.Certificate[0])
	if err != nil {
		return false
	}
	signer, ok := id.Certificate.PrivateKey.(crypto.Signer)
	if !ok {
		return false
	}
	public, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	return ok && public.Equal(leaf.PublicKey)
}

// EncodePEM re-encodes the identity as a certificate and key PEM pair
// for storage.
func (id *Identity) EncodePEM() (certPEM, keyPEM []byte, err error) {
	if !id.Valid() {
		return nil, nil, fmt.Errorf("identity: not valid")
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Certificate[0]})
	keyBytes, err := x509.MarshalPKCS8PrivateKey(id.Certificate.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: failed to marshal private key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM, nil
}

// Leaf returns the parsed leaf certificate.
func (id *Identity) Leaf() (*x509.Certificate, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("identity: not valid")
	}
	return x509.ParseCertificate(id.Certificate.Certificate[0])
}

const transientLifetime = time.Hour * 24

// NewTransient mints a session-only identity.
func NewTransient(displayName string) (*Identity, error) {
	return generate(displayName, transientLifetime, false)
}

// NewPersistent mints a long-lived identity suitable for saving to the
// identity store.
func NewPersistent(displayName string, duration time.Duration) (*Identity, error) {
	return generate(displayName, duration, true)
}

func generate(displayName string, duration time.Duration, persistent bool) (*Identity, error) {
	certPEM, keyPEM, err := cert.Generate(displayName, duration)
	if err != nil {
		return nil, err
	}
	keyPair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to load generated keypair: %w", err)
	}
	return &Identity{
		Certificate: keyPair,
		DisplayName: displayName,
		Persistent:  persistent,
	}, nil
}
