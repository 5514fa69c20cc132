package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func cheapHash(t *testing.T, password string) string {
	t.Helper()
	h, err := NewPasswordHasherWithParams(64, 1, 1).HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return h
}

func newService(t *testing.T) (*AuthService, string) {
	t.Helper()
	t.Setenv("DDS_TEST_JWT", testSecret)

	token, hash, err := NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		t.Fatalf("GenerateMachineToken: %v", err)
	}

	cfg := config.AuthConfig{
		JWTSecretEnv:           "DDS_TEST_JWT",
		AccessTokenTTL:         time.Minute,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Minute,
		Users: []config.UserConfig{
			{Username: "alice", PasswordHash: cheapHash(t, "s3cret"), Role: "technician"},
			{Username: "viewer", PasswordHash: cheapHash(t, "look"), Role: "viewer"},
			{Username: "broken", PasswordHash: "not-a-hash", Role: "admin"},
		},
		MachineTokens: []config.MachineTokenConfig{
			{Name: "scope", Hash: hash, Permissions: []string{"operator"}},
		},
	}
	return NewAuthService(cfg, zaptest.NewLogger(t)), token
}

func TestPasswordRoundTrip(t *testing.T) {
	h := NewPasswordHasherWithParams(64, 1, 1)
	enc, err := h.HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=64,t=1,p=1$") {
		t.Fatalf("encoded = %q", enc)
	}

	ok, err := h.VerifyPassword("correct horse", enc)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword = %v, %v", ok, err)
	}
	ok, err = h.VerifyPassword("wrong", enc)
	if err != nil || ok {
		t.Fatalf("wrong password = %v, %v", ok, err)
	}

	for _, bad := range []string{"", "$bcrypt$x$y$z$w", "$argon2id$v=18$m=64,t=1,p=1$c2FsdA$aGFzaA"} {
		if _, err := h.VerifyPassword("x", bad); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifyPassword(%q) err = %v", bad, err)
		}
	}
}

func TestMachineTokenFormat(t *testing.T) {
	g := NewMachineTokenGenerator()
	token, hash, err := g.GenerateMachineToken()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(token, "dds_") || !g.ValidateTokenFormat(token) {
		t.Fatalf("token %q rejected", token)
	}
	if hash != g.HashToken(token) || len(hash) != 64 {
		t.Fatalf("hash = %q", hash)
	}

	for _, bad := range []string{
		"",
		"omc_" + token[4:],
		token[:len(token)-1],
		token[:len(token)-1] + "z",
		strings.Replace(token, "-", "x", 1),
	} {
		if g.ValidateTokenFormat(bad) {
			t.Errorf("ValidateTokenFormat(%q) = true", bad)
		}
	}
}

func TestJWTRejectsForeignSecret(t *testing.T) {
	a := NewJWTHandler(testSecret, time.Minute)
	b := NewJWTHandler(testSecret+"x", time.Minute)

	token, _, err := a.GenerateAccessToken(UserID("alice"), "alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := a.ValidateAccessToken(token)
	if err != nil || claims.Username != "alice" || claims.UserID != UserID("alice") {
		t.Fatalf("claims = %+v, err = %v", claims, err)
	}
	if _, err := b.ValidateAccessToken(token); err == nil {
		t.Fatal("token accepted with another secret")
	}

	expired := NewJWTHandler(testSecret, -time.Minute)
	token, _, _ = expired.GenerateAccessToken(UserID("alice"), "alice", "admin")
	if _, err := expired.ValidateAccessToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)

	token, expiresAt, err := svc.LoginUser("alice", "s3cret", "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiresAt = %v", expiresAt)
	}

	perms, err := svc.ValidateToken(token, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !HasPermission(perms, PermTechnician) || HasPermission(perms, PermAdmin) {
		t.Fatalf("technician permissions = %v", perms)
	}

	if _, _, err := svc.LoginUser("alice", "nope", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, _, err := svc.LoginUser("mallory", "x", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
	if _, _, err := svc.LoginUser("broken", "x", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("malformed hash err = %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	svc, _ := newService(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, _, err := svc.LoginUser("alice", "bad", "", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if _, _, err := svc.LoginUser("alice", "s3cret", "", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked account err = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, _, err := svc.LoginUser("alice", "s3cret", "", ""); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
}

func TestRolePermissions(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		role string
		want []Permission
	}{
		{"viewer", []Permission{PermOperator}},
		{"technician", []Permission{PermOperator, PermTechnician}},
		{"admin", []Permission{PermOperator, PermTechnician, PermAdmin}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got := svc.roleToPermissions(tt.role)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMachineToken(t *testing.T) {
	svc, token := newService(t)

	perms, err := svc.ValidateToken(token, "", "")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if len(perms) != 1 || perms[0] != PermOperator {
		t.Fatalf("perms = %v", perms)
	}

	other, _, _ := NewMachineTokenGenerator().GenerateMachineToken()
	if _, err := svc.ValidateToken(other, "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token err = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, bench := newService(t)

	operatorToken, _, err := svc.LoginUser("viewer", "look", "", "")
	if err != nil {
		t.Fatal(err)
	}
	techToken, _, err := svc.LoginUser("alice", "s3cret", "", "")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/op", svc.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	r.GET("/tech", svc.AuthMiddleware(), RequirePermission(PermTechnician), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"no header", "/op", "", http.StatusUnauthorized, ""},
		{"basic scheme", "/op", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage token", "/op", "Bearer abc", http.StatusUnauthorized, ""},
		{"operator", "/op", "Bearer " + operatorToken, http.StatusOK, "viewer"},
		{"operator on technician route", "/tech", "Bearer " + operatorToken, http.StatusForbidden, ""},
		{"technician", "/tech", "Bearer " + techToken, http.StatusOK, "alice"},
		{"bench token", "/op", "Bearer " + bench, http.StatusOK, "bench"},
		{"bench token on technician route", "/tech", "Bearer " + bench, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}
