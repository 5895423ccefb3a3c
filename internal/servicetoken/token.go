package servicetoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chathub/internal/util"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the default lifetime for operator tokens.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
	// DefaultKeyID is the key id used when none is configured.
	DefaultKeyID = "internal-active"
)

// Action names an operation a token is allowed to trigger.
const ActionRunDigest = "digest:run"

// Claims are the registered claims plus the granted action.
type Claims struct {
	jwt.RegisteredClaims
	Action string `json:"act"`
}

// Signer issues short-lived RS256 tokens for internal callers such as the
// scheduler or chatctl.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    *keyPair
}

type keyPair struct {
	kid     string
	private any
}

// SignerOptions configures token signing.
type SignerOptions struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// NewSigner loads the private key and returns a signer.
func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = DefaultKeyID
	}
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("service token private key path is required")
	}
	priv, err := loadPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load service token private key: %w", err)
	}
	return &Signer{issuer: issuer, ttl: ttl, key: &keyPair{kid: kid, private: priv}}, nil
}

// Sign issues a token for audience granting action.
func (s *Signer) Sign(audience, action string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   s.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        util.NewID(),
		},
		Action: strings.TrimSpace(action),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.key.kid
	return t.SignedString(s.key.private)
}

// VerifierOptions configures token verification. PublicKeyPath is registered
// under DefaultKeyID; KeyPaths adds rotated keys by kid.
type VerifierOptions struct {
	PublicKeyPath  string
	KeyPaths       map[string]string
	DefaultKeyID   string
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

// Verifier validates operator tokens against audience, issuer allowlist, and action.
type Verifier struct {
	issuers map[string]struct{}
	keys    map[string]any
	parser  *jwt.Parser
}

// NewVerifier loads public keys and returns a verifier.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range opts.AllowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}

	paths := make(map[string]string, len(opts.KeyPaths)+1)
	if path := strings.TrimSpace(opts.PublicKeyPath); path != "" {
		kid := strings.TrimSpace(opts.DefaultKeyID)
		if kid == "" {
			kid = DefaultKeyID
		}
		paths[kid] = path
	}
	for kid, path := range opts.KeyPaths {
		if kid, path = strings.TrimSpace(kid), strings.TrimSpace(path); kid != "" && path != "" {
			paths[kid] = path
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("service token verifier requires an rsa public key")
	}
	keys := make(map[string]any, len(paths))
	for kid, path := range paths {
		pub, err := loadPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load service token key %q: %w", kid, err)
		}
		keys[kid] = pub
	}

	return &Verifier{
		issuers: issuers,
		keys:    keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify validates signature, expiry, audience, issuer, and that the token
// grants action.
func (v *Verifier) Verify(token, action string) (Claims, error) {
	var claims Claims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("token required")
	}
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		key, ok := v.keys[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return key, nil
	})
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return claims, errors.New("issuer not allowed")
	}
	if claims.ID == "" {
		return claims, errors.New("jti required")
	}
	if claims.Action != action {
		return claims, fmt.Errorf("token does not grant %q", action)
	}
	return claims, nil
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ParseKeyPaths parses "kid=path,kid2=path2" into a map.
func ParseKeyPaths(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid verify key entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
