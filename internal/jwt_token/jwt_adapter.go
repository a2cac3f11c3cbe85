package jwttoken

import (
	"mpi/internal/platform/middleware"
)

// JWTServiceAdapter bridges JWTService to the transport middleware contract.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		FacilityID: claims.FacilityID,
		ProviderID: claims.ProviderID,
		AdminID:    claims.AdminID,
		AdminName:  claims.AdminName,
	}, nil
}
