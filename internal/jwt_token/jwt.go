package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mpi/internal/registry"
	dErrors "mpi/pkg/domain-errors"
)

// Claims represents the JWT claims carried by registry access tokens. The
// identity fields mirror registry.Requester: facility and provider tokens come
// from the HIE identity server, admin tokens from the back office.
type Claims struct {
	FacilityID string `json:"facility_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	AdminID    string `json:"admin_id,omitempty"`
	AdminName  string `json:"admin_name,omitempty"`
	jwt.RegisteredClaims
}

// Requester converts the claims to the domain identity.
func (c *Claims) Requester() registry.Requester {
	return registry.Requester{
		FacilityID: c.FacilityID,
		ProviderID: c.ProviderID,
		AdminID:    c.AdminID,
		AdminName:  c.AdminName,
	}
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateAccessToken signs a token asserting the given requester identity.
func (s *JWTService) GenerateAccessToken(requester registry.Requester, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		FacilityID: requester.FacilityID,
		ProviderID: requester.ProviderID,
		AdminID:    requester.AdminID,
		AdminName:  requester.AdminName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Requester().IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no requester identity")
	}

	return claims, nil
}
