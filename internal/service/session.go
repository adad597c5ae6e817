package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/store"
)

// ErrInvalidCredentials is returned for any failed admin authentication,
// deliberately without detail.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminPrincipal identifies an authenticated admin (owner principal) for
// key-management calls.
type AdminPrincipal struct {
	AdminID string
	Email   string
}

// AdminStore is the persistence contract for admin accounts.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	UpdateAdminLastLogin(ctx context.Context, id string) error
}

// SessionService authenticates admins and issues their session tokens.
type SessionService struct {
	admins    AdminStore
	jwtSecret []byte
	ttl       time.Duration
	logger    *slog.Logger
}

// NewSessionService wires the admin session layer. ttl <= 0 defaults to 24h.
func NewSessionService(admins AdminStore, jwtSecret string, ttl time.Duration, logger *slog.Logger) *SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		admins:    admins,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		logger:    logger,
	}
}

// Login checks an email/password pair and returns a signed session token.
// Every failure mode maps to ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, *AdminPrincipal, error) {
	admin, err := s.admins.GetAdminByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("admin lookup failed", "error", err)
		}
		return "", nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return "", nil, ErrInvalidCredentials
	}

	hashed := store.HashPassword(password)
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(admin.PasswordHash)) != 1 {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueJWT(ctx, admin.ID, admin.Email, s.ttl)
	if err != nil {
		s.logger.Error("token signing failed", "error", err)
		return "", nil, ErrInvalidCredentials
	}

	if err := s.admins.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		s.logger.Warn("last login update failed", "admin_id", admin.ID, "error", err)
	}

	s.logger.Info("admin logged in", "admin_id", admin.ID)
	return token, &AdminPrincipal{AdminID: admin.ID, Email: admin.Email}, nil
}

type sessionClaims struct {
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// IssueJWT creates a new signed session token for the given admin.
func (s *SessionService) IssueJWT(ctx context.Context, adminID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "helios",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a session token and returns the admin identity.
func (s *SessionService) ValidateJWT(ctx context.Context, tokenStr string) (*AdminPrincipal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &AdminPrincipal{AdminID: claims.AdminID, Email: claims.Email}, nil
}
