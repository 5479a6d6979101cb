// Package jwt verifica los bearer tokens emitidos por el servicio de auth
// externo. permgate no emite tokens.
package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid_jwt")
	ErrInvalidIssuer = errors.New("invalid_issuer")
	ErrMissingUser   = errors.New("missing_user")
)

// Principal es lo que permgate necesita del token.
type Principal struct {
	UserID  int64
	Session string
	Subject string
	Expires time.Time
}

// Verifier valida tokens HS256 con un secreto compartido.
type Verifier struct {
	secret []byte
	iss    string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier: iss vacío desactiva el chequeo de issuer.
func NewVerifier(secret []byte, iss string) *Verifier {
	return &Verifier{secret: secret, iss: iss, leeway: 30 * time.Second, now: time.Now}
}

// Verify valida firma, exp/nbf (con tolerancia) e issuer, y extrae el usuario.
func (v *Verifier) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrInvalidToken
	}

	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithLeeway(v.leeway),
		jwtv5.WithTimeFunc(v.now),
	}
	if v.iss != "" {
		opts = append(opts, jwtv5.WithIssuer(v.iss))
	}

	claims := jwtv5.MapClaims{}
	tok, err := jwtv5.ParseWithClaims(raw, claims, func(*jwtv5.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		if errors.Is(err, jwtv5.ErrTokenInvalidIssuer) {
			return Principal{}, ErrInvalidIssuer
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, _ := claims.GetSubject()
	p := Principal{Subject: sub}

	uid, ok := numericClaim(claims["uid"])
	if !ok {
		uid, ok = numericClaim(sub)
	}
	if !ok || uid <= 0 {
		return Principal{}, ErrMissingUser
	}
	p.UserID = uid

	if sid, _ := claims["sid"].(string); sid != "" {
		p.Session = sid
	} else {
		p.Session = sub
	}
	if p.Session == "" {
		p.Session = strconv.FormatInt(uid, 10)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.Expires = exp.Time
	}
	return p, nil
}

// numericClaim acepta número JSON o string numérico.
func numericClaim(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}
