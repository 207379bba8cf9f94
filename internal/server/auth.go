package server

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vocata-ai/vocata/internal/config"
)

// ErrUnauthorized is returned for any failed credential or allow-list check.
// The cause is logged server-side; clients only ever see the 4401 close.
var ErrUnauthorized = errors.New("server: unauthorized")

// Authenticator validates connection credentials. Three mechanisms are
// supported: a shared-secret token, HS256 JWTs, and RS256/EdDSA JWTs against
// a public key. When a JWT mechanism is configured it wins over the shared
// secret. An optional IP allow-list is checked before the upgrade.
type Authenticator struct {
	token      string
	hmacSecret []byte
	rsaKey     *rsa.PublicKey
	edKey      ed25519.PublicKey
	allowed    []netip.Prefix
}

// NewAuthenticator builds an Authenticator from the auth configuration.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{token: cfg.Token}
	if cfg.JWTSecret != "" {
		a.hmacSecret = []byte(cfg.JWTSecret)
	}
	if cfg.JWTPublicKey != "" {
		if err := a.loadPublicKey(cfg.JWTPublicKey); err != nil {
			return nil, err
		}
	}
	for _, entry := range cfg.AllowedIPs {
		prefix, err := parseAllowEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("server: parse allowed ip %q: %w", entry, err)
		}
		a.allowed = append(a.allowed, prefix)
	}
	return a, nil
}

// loadPublicKey accepts inline PEM or a path to a PEM file and detects the
// key type.
func (a *Authenticator) loadPublicKey(value string) error {
	pemData := []byte(value)
	if !strings.Contains(value, "-----BEGIN") {
		data, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("server: read jwt public key: %w", err)
		}
		pemData = data
	}

	if key, err := jwt.ParseRSAPublicKeyFromPEM(pemData); err == nil {
		a.rsaKey = key
		return nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(pemData)
	if err != nil {
		return fmt.Errorf("server: jwt public key is neither RSA nor Ed25519: %w", err)
	}
	ed, ok := key.(ed25519.PublicKey)
	if !ok {
		return errors.New("server: unsupported jwt public key type")
	}
	a.edKey = ed
	return nil
}

func parseAllowEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// jwtConfigured reports whether any JWT mechanism is active.
func (a *Authenticator) jwtConfigured() bool {
	return a.hmacSecret != nil || a.rsaKey != nil || a.edKey != nil
}

// AllowIP checks the remote address against the allow-list. An empty list
// allows everything.
func (a *Authenticator) AllowIP(remoteAddr string) error {
	if len(a.allowed) == 0 {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ErrUnauthorized
	}
	addr = addr.Unmap()
	for _, prefix := range a.allowed {
		if prefix.Contains(addr) {
			return nil
		}
	}
	return ErrUnauthorized
}

// ValidateToken checks the client credential. With no mechanism configured
// the server is open.
func (a *Authenticator) ValidateToken(token string) error {
	if a.jwtConfigured() {
		return a.validateJWT(token)
	}
	if a.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (a *Authenticator) validateJWT(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	var methods []string
	if a.hmacSecret != nil {
		methods = append(methods, "HS256")
	}
	if a.rsaKey != nil {
		methods = append(methods, "RS256")
	}
	if a.edKey != nil {
		methods = append(methods, "EdDSA")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if a.hmacSecret == nil {
				return nil, errors.New("hmac not configured")
			}
			return a.hmacSecret, nil
		case *jwt.SigningMethodRSA:
			if a.rsaKey == nil {
				return nil, errors.New("rsa not configured")
			}
			return a.rsaKey, nil
		case *jwt.SigningMethodEd25519:
			if a.edKey == nil {
				return nil, errors.New("ed25519 not configured")
			}
			return a.edKey, nil
		}
		return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
	}, jwt.WithValidMethods(methods))
	if err != nil || !parsed.Valid {
		return ErrUnauthorized
	}
	return nil
}

// clientToken extracts the credential from the upgrade request: the `token`
// query parameter or a bearer Authorization header.
func clientToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
