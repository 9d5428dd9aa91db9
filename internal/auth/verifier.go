package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway = 30 * time.Second
)

var (
	// ErrMissingSubject is returned when a verified token has no sub claim.
	ErrMissingSubject = errors.New("token missing sub")

	// ErrUnauthorizedParty is returned when the azp claim is not allowed.
	ErrUnauthorizedParty = errors.New("token azp not authorized")
)

// VerifierConfig controls how bearer tokens are validated.
type VerifierConfig struct {
	JWKSURL           string   // Required JWKS endpoint
	Issuer            string   // Optional expected iss
	AuthorizedParties []string // Optional allow-list for azp
	Leeway            time.Duration
}

// Verifier validates RS256 session tokens against a JWKS endpoint.
type Verifier struct {
	authorizedParties []string
	keyfunc           keyfunc.Keyfunc
	parser            *jwt.Parser
}

// NewVerifier builds a verifier. The JWKS is fetched in the background and
// refreshed for the lifetime of ctx.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("JWKS URL must be set")
	}

	keyProvider, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}

	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = defaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name}),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Verifier{
		authorizedParties: cfg.AuthorizedParties,
		keyfunc:           keyProvider,
		parser:            jwt.NewParser(opts...),
	}, nil
}

// Verify parses and validates a JWT, returning the decoded claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc.Keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Subject:         readString(mapClaims, "sub"),
		Issuer:          readString(mapClaims, "iss"),
		AuthorizedParty: readString(mapClaims, "azp"),
		ExpiresAt:       readExpiry(mapClaims["exp"]),
		Raw:             mapClaims,
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if len(v.authorizedParties) > 0 && !slices.Contains(v.authorizedParties, claims.AuthorizedParty) {
		return nil, ErrUnauthorizedParty
	}
	return claims, nil
}
