package services

import (
	"errors"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/utils"
	"rtclink/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// Claims is the JWT body of a connection token.
type Claims struct {
	SessionID domain.SessionID `json:"session_id"`
	Role      domain.Role      `json:"role"`
	Data      string           `json:"data,omitempty"`
	jwt.RegisteredClaims
}

// AuthService signs and verifies the connection tokens a client presents
// when it joins a session.
type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

var _ ports.TokenIssuer = (*AuthService)(nil)

func NewAuthService(jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *AuthService) IssueToken(sessionID domain.SessionID, role domain.Role, data string) (string, error) {
	if err := validation.ValidateSessionID(string(sessionID)); err != nil {
		return "", domain.ErrInvalidSession.Wrap("cannot issue token", err)
	}
	if err := validation.ValidateConnectionData(data); err != nil {
		return "", domain.ErrInvalidParam.Wrap("cannot issue token", err)
	}
	if role == "" {
		role = domain.RolePublisher
	}
	if _, ok := roleLevels[role]; !ok {
		return "", domain.ErrInvalidParam.Withf("unknown role %q", role)
	}

	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		Role:      role,
		Data:      data,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.SessionID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *AuthService) VerifyToken(tokenString string) (*ports.TokenClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &ports.TokenClaims{SessionID: claims.SessionID, Role: claims.Role, Data: claims.Data}, nil
}

var roleLevels = map[domain.Role]int{
	domain.RoleSubscriber: 1,
	domain.RolePublisher:  2,
	domain.RoleModerator:  3,
}

// HasRole reports whether have grants at least what required does.
func HasRole(have, required domain.Role) bool {
	level, ok := roleLevels[have]
	return ok && level >= roleLevels[required]
}

// ProjectAuth authenticates calls to the HTTP API. Callers present a
// short-lived JWT signed with the project secret whose issuer is the
// project key.
type ProjectAuth struct {
	apiKey string
	secret []byte
}

func NewProjectAuth(apiKey, apiSecret string) *ProjectAuth {
	return &ProjectAuth{apiKey: apiKey, secret: []byte(apiSecret)}
}

func (a *ProjectAuth) IssueProjectToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.apiKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        utils.GenerateRequestID(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *ProjectAuth) VerifyProjectToken(tokenString string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.apiKey), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case err != nil:
		return ErrUnauthorized
	}
	return nil
}
