package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dayloop/dayloop-server/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// Token-use discriminator so an access token can never be replayed
// against the refresh endpoint and vice versa.
const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims holds the JWT payload fields. RegisteredClaims.ID carries the jti,
// which is the revocation key for refresh tokens.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// Provider signs and verifies RS256 JWTs for both token lifetimes.
type Provider struct {
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &Provider{
		privateKey:    privKey,
		publicKey:     pubKey,
		accessExpiry:  cfg.AccessTokenExpiry,
		refreshExpiry: cfg.RefreshTokenExpiry,
	}, nil
}

// SignAccess mints a short-lived access token bound to userID, email and jti.
func (p *Provider) SignAccess(userID, email, jti string) (string, error) {
	return p.sign(userID, email, jti, useAccess, p.accessExpiry)
}

// SignRefresh mints a long-lived refresh token bound to userID, email and jti.
func (p *Provider) SignRefresh(userID, email, jti string) (string, error) {
	return p.sign(userID, email, jti, useRefresh, p.refreshExpiry)
}

func (p *Provider) sign(userID, email, jti, use string, expiry time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID,
		Email:    email,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(p.privateKey)
}

// VerifyAccess validates an access token's signature and expiry.
func (p *Provider) VerifyAccess(tokenStr string) (*Claims, error) {
	return p.verify(tokenStr, useAccess)
}

// VerifyRefresh validates a refresh token's signature and expiry.
// A valid result still has to pass the credential-store revocation check.
func (p *Provider) VerifyRefresh(tokenStr string) (*Claims, error) {
	return p.verify(tokenStr, useRefresh)
}

func (p *Provider) verify(tokenStr, use string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TokenUse != use {
		return nil, errors.New("wrong token use")
	}
	return claims, nil
}
