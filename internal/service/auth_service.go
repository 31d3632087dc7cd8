package service

import (
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/pkg/config"
	appErrors "github.com/noah-isme/sma-marks-engine/pkg/errors"
)

// tokenRoles are the roles an access token may carry. The scheduler role is
// reserved for in-process jobs.
var tokenRoles = map[models.UserRole]struct{}{
	models.RoleTeacher:  {},
	models.RoleApprover: {},
	models.RoleAdmin:    {},
}

// AuthService verifies HS256 access tokens minted by the identity service.
type AuthService struct {
	secret []byte
	parser *jwt.Parser
	logger *zap.Logger
}

// NewAuthService builds a verifier from cfg. An empty issuer disables the iss check.
func NewAuthService(cfg config.JWTConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &AuthService{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...), logger: logger}
}

func (s *AuthService) key(*jwt.Token) (interface{}, error) {
	return s.secret, nil
}

// ValidateToken returns the claims of a valid token naming a known actor.
func (s *AuthService) ValidateToken(raw string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	if _, err := s.parser.ParseWithClaims(raw, claims, s.key); err != nil {
		s.logger.Debug("access token rejected", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token carries no actor")
	}
	if _, ok := tokenRoles[claims.Role]; !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token carries unknown role").WithDetail("role", string(claims.Role))
	}
	return claims, nil
}
