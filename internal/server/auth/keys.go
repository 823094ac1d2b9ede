package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// ParseSigningMethod resolves an asymmetric JWT algorithm name. HMAC and
// "none" are rejected: verification must never need the signing key.
func ParseSigningMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "RS256", "RS384", "RS512",
		"PS256", "PS384", "PS512",
		"ES256", "ES384", "ES512",
		"EdDSA":
		return jwt.GetSigningMethod(alg), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

func family(m jwt.SigningMethod) string {
	switch m.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return "rsa"
	case *jwt.SigningMethodECDSA:
		return "ecdsa"
	case *jwt.SigningMethodEd25519:
		return "ed25519"
	}
	return ""
}

// ParsePrivateKeyPEM decodes a PEM private key suitable for method.
func ParsePrivateKeyPEM(m jwt.SigningMethod, data []byte) (crypto.PrivateKey, error) {
	switch family(m) {
	case "rsa":
		return jwt.ParseRSAPrivateKeyFromPEM(data)
	case "ecdsa":
		return jwt.ParseECPrivateKeyFromPEM(data)
	case "ed25519":
		return jwt.ParseEdPrivateKeyFromPEM(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, m.Alg())
}

// ParsePublicKeyPEM decodes a PEM public key suitable for method.
func ParsePublicKeyPEM(m jwt.SigningMethod, data []byte) (crypto.PublicKey, error) {
	switch family(m) {
	case "rsa":
		return jwt.ParseRSAPublicKeyFromPEM(data)
	case "ecdsa":
		return jwt.ParseECPublicKeyFromPEM(data)
	case "ed25519":
		return jwt.ParseEdPublicKeyFromPEM(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, m.Alg())
}

func LoadPrivateKey(m jwt.SigningMethod, path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKeyPEM(m, data)
}

func LoadPublicKey(m jwt.SigningMethod, path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKeyPEM(m, data)
}

// GenerateKeyPair creates a fresh key pair for alg and returns it as PKCS#8
// and PKIX PEM blocks.
func GenerateKeyPair(alg string) (privPEM, pubPEM []byte, err error) {
	m, err := ParseSigningMethod(alg)
	if err != nil {
		return nil, nil, err
	}

	var priv crypto.PrivateKey
	var pub crypto.PublicKey
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, err
		}
		priv, pub = k, &k.PublicKey
	case "ES256", "ES384", "ES512":
		k, err := ecdsa.GenerateKey(curveFor(m.(*jwt.SigningMethodECDSA)), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		priv, pub = k, &k.PublicKey
	default:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		priv, pub = k, p
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}

	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}

func curveFor(m *jwt.SigningMethodECDSA) elliptic.Curve {
	switch m.CurveBits {
	case 384:
		return elliptic.P384()
	case 521:
		return elliptic.P521()
	}
	return elliptic.P256()
}
