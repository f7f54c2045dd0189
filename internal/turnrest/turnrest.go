// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The expiry is computed from the server clock in UTC.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingSecret  = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL     = errors.New("turnrest: TTLSeconds must be > 0")
	ErrInvalidPrefix  = errors.New("turnrest: UsernamePrefix must be non-empty and must not contain ':'")
	ErrInvalidSession = errors.New("turnrest: session id must be non-empty and must not contain ':'")
)

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Optional overrides for tests.
	Now             func() time.Time
	SessionIDSource func() (string, error)
}

type Generator struct {
	secret    []byte
	ttl       int64
	prefix    string
	now       func() time.Time
	sessionID func() (string, error)
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, ErrMissingSecret
	case cfg.TTLSeconds <= 0:
		return nil, ErrInvalidTTL
	case cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, ErrInvalidPrefix
	}
	g := &Generator{
		secret:    []byte(cfg.SharedSecret),
		ttl:       cfg.TTLSeconds,
		prefix:    cfg.UsernamePrefix,
		now:       cfg.Now,
		sessionID: cfg.SessionIDSource,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sessionID == nil {
		g.sessionID = func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return strings.ReplaceAll(id.String(), "-", ""), nil
		}
	}
	return g, nil
}

// Generate mints credentials bound to sessionID.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, ErrInvalidSession
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + g.prefix + ":" + sessionID
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		ExpiryUnix: expiry,
	}, nil
}

// GenerateRandom mints credentials for a fresh random session id.
func (g *Generator) GenerateRandom() (Credentials, error) {
	id, err := g.sessionID()
	if err != nil {
		return Credentials{}, err
	}
	return g.Generate(id)
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
