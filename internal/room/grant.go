package room

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Grant is what a signed join grant proves: the holder is a member of
// RoomID and may replay ScenarioID from Seed.
type Grant struct {
	RoomID     string
	ScenarioID string
	Seed       uint64
	UserID     string
	ExpiresAt  time.Time
}

type grantClaims struct {
	jwt.RegisteredClaims
	RoomID     string `json:"room_id"`
	ScenarioID string `json:"scenario_id"`
	Seed       string `json:"seed"`
}

type GrantIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewGrantIssuer(secret, issuer string, ttl time.Duration) (*GrantIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("room grant secret must be at least 16 bytes")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("room grant issuer is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GrantIssuer{key: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (g *GrantIssuer) Issue(grant Grant) (string, error) {
	now := g.now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   grant.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		RoomID:     grant.RoomID,
		ScenarioID: grant.ScenarioID,
		Seed:       strconv.FormatUint(grant.Seed, 10),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("sign room grant: %w", err)
	}
	return token, nil
}

func (g *GrantIssuer) Parse(token string) (Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Grant{}, fmt.Errorf("%w: grant is required", ErrInvalidGrant)
	}
	var claims grantClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Grant{}, fmt.Errorf("%w: grant expired", ErrInvalidGrant)
		}
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	seed, err := strconv.ParseUint(claims.Seed, 10, 64)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: bad seed", ErrInvalidGrant)
	}
	if claims.RoomID == "" || claims.Subject == "" {
		return Grant{}, fmt.Errorf("%w: missing room or subject", ErrInvalidGrant)
	}
	return Grant{
		RoomID:     claims.RoomID,
		ScenarioID: claims.ScenarioID,
		Seed:       seed,
		UserID:     claims.Subject,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
