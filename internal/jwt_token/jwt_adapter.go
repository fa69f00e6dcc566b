package jwttoken

import (
	"politikcred/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *Claims) *middleware.TriggerClaims {
	return &middleware.TriggerClaims{
		Subject: claims.Subject,
		TokenID: claims.ID,
	}
}

// JWTServiceAdapter satisfies middleware.TriggerValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.TriggerClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
