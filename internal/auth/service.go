package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// userNamespace derives stable user IDs from config usernames.
var userNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

type loginFailures struct {
	count       int
	lockedUntil time.Time
}

// AuthService authenticates operators and bench tokens listed in the
// configuration. Failed login counters live in memory and reset on restart.
type AuthService struct {
	logger          *zap.Logger
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator

	users        map[string]config.UserConfig
	tokens       map[string]config.MachineTokenConfig
	maxAttempts  int
	lockDuration time.Duration

	mu       sync.Mutex
	failures map[string]*loginFailures
	now      func() time.Time
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	a := &AuthService{
		logger:          logger,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		users:           make(map[string]config.UserConfig, len(cfg.Users)),
		tokens:          make(map[string]config.MachineTokenConfig, len(cfg.MachineTokens)),
		maxAttempts:     cfg.MaxFailedLoginAttempts,
		lockDuration:    cfg.AccountLockDuration,
		failures:        make(map[string]*loginFailures),
		now:             time.Now,
	}
	for _, u := range cfg.Users {
		a.users[u.Username] = u
	}
	for _, t := range cfg.MachineTokens {
		a.tokens[t.Hash] = t
	}

	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret not set or too short, using development secret",
			zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

// LoginUser checks the password and returns a signed access token.
func (a *AuthService) LoginUser(username, password, ipAddress, userAgent string) (string, time.Time, error) {
	user, ok := a.users[username]
	if !ok {
		a.logAuthEvent("user_login_failed", username, ipAddress, userAgent, false, "user not found")
		return "", time.Time{}, ErrInvalidCredentials
	}

	if until, locked := a.lockedUntil(username); locked {
		a.logAuthEvent("user_login_failed", username, ipAddress, userAgent, false, "account locked")
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		reason := "invalid password"
		if err != nil {
			reason = err.Error()
		}
		a.recordFailure(username)
		a.logAuthEvent("user_login_failed", username, ipAddress, userAgent, false, reason)
		return "", time.Time{}, ErrInvalidCredentials
	}

	a.resetFailures(username)

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(UserID(username), username, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent("user_login_success", username, ipAddress, userAgent, true, "")
	return token, expiresAt, nil
}

// UserID is the stable ID carried in a user's access tokens.
func UserID(username string) uuid.UUID {
	return uuid.NewSHA1(userNamespace, []byte(username))
}

func (a *AuthService) lockedUntil(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.failures[username]
	if !ok || f.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if a.now().Before(f.lockedUntil) {
		return f.lockedUntil, true
	}
	delete(a.failures, username)
	return time.Time{}, false
}

func (a *AuthService) recordFailure(username string) {
	if a.maxAttempts <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.failures[username]
	if !ok {
		f = &loginFailures{}
		a.failures[username] = f
	}
	f.count++
	if f.count >= a.maxAttempts {
		f.count = 0
		f.lockedUntil = a.now().Add(a.lockDuration)
		a.logger.Warn("Account locked after failed logins",
			zap.String("username", username),
			zap.Time("locked_until", f.lockedUntil))
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	delete(a.failures, username)
	a.mu.Unlock()
}

// ValidateMachineToken validates a bench token and returns its permissions
func (a *AuthService) ValidateMachineToken(token, ipAddress, userAgent string) ([]Permission, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("%w: bad format", ErrInvalidToken)
	}

	mt, ok := a.tokens[a.machineTokenGen.HashToken(token)]
	if !ok {
		a.logAuthEvent("machine_token_failed", "", ipAddress, userAgent, false, "token not found")
		return nil, ErrInvalidToken
	}

	a.logAuthEvent("machine_token_success", mt.Name, ipAddress, userAgent, true, "")

	permissions := make([]Permission, len(mt.Permissions))
	for i, p := range mt.Permissions {
		permissions[i] = Permission(p)
	}
	return permissions, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(token, ipAddress, userAgent string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return a.roleToPermissions(claims.Role), nil
	}

	return a.ValidateMachineToken(token, ipAddress, userAgent)
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

// HasPermission reports whether required is among perms.
func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}

func (a *AuthService) logAuthEvent(eventType, subject, ip, userAgent string, success bool, reason string) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("ip", ip),
		zap.String("user_agent", userAgent),
	}
	if success {
		a.logger.Info("Auth event", fields...)
		return
	}
	a.logger.Warn("Auth event", append(fields, zap.String("reason", reason))...)
}
