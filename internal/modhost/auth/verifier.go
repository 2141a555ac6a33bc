// Package auth verifies identity provider bearer tokens and resolves the
// tenant a request acts for.
package auth

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/config"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

type claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
}

// Verifier checks RS256 tokens issued by the identity provider realm. It
// never issues tokens.
type Verifier struct {
	key      *rsa.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier returns nil when auth is disabled.
func NewVerifier(cfg config.AuthConfig) (*Verifier, apperrors.Error) {
	if !cfg.Enabled {
		return nil, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, ErrInvalidKey.MsgErr("unable to parse public key", err)
	}
	v := &Verifier{key: key, issuer: cfg.Issuer, audience: cfg.Audience}
	if cfg.ClockSkew != "" {
		if d, err := config.ParseDuration(cfg.ClockSkew); err == nil {
			v.leeway = d
		}
	}
	return v, nil
}

// Verify returns the identity carried by token.
func (v *Verifier) Verify(token string) (*modcommon.Identity, apperrors.Error) {
	if token == "" {
		return nil, ErrInvalidToken.Msg("empty token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken.MsgErr(err.Error(), err)
	}
	if c.Subject == "" {
		return nil, ErrInvalidToken.Msg("token has no subject")
	}
	return &modcommon.Identity{Subject: c.Subject, Username: c.PreferredUsername}, nil
}
