package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "tauth"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestValidator(t *testing.T, now time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, issuer string, issuedAt time.Time, lifetime time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(lifetime)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		config   SessionValidatorConfig
		expected error
	}{
		{name: "secret", config: SessionValidatorConfig{Issuer: "i", CookieName: "c"}, expected: ErrMissingSessionSigningKey},
		{name: "issuer", config: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}, expected: ErrMissingSessionIssuer},
		{name: "cookie", config: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}, expected: ErrMissingSessionCookieName},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewSessionValidator(testCase.config); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	claims, err := validator.ValidateToken(signTestToken(t, testSessionIssuer, clockNow.Add(-time.Minute), time.Hour))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	_, err := validator.ValidateToken(signTestToken(t, testSessionIssuer, clockNow.Add(-2*time.Hour), time.Hour))
	if !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	_, err := validator.ValidateToken(signTestToken(t, "someone-else", clockNow.Add(-time.Minute), time.Hour))
	if !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	signed := signTestToken(t, testSessionIssuer, clockNow.Add(-time.Minute), time.Hour)

	testCases := []struct {
		name    string
		prepare func(*http.Request)
		wantErr error
	}{
		{
			name: "cookie",
			prepare: func(request *http.Request) {
				request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
			},
		},
		{
			name: "bearer header",
			prepare: func(request *http.Request) {
				request.Header.Set("Authorization", "Bearer "+signed)
			},
		},
		{
			name: "bearer takes precedence over cookie",
			prepare: func(request *http.Request) {
				request.Header.Set("Authorization", "bearer "+signed)
				request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "garbage"})
			},
		},
		{
			name:    "missing",
			prepare: func(*http.Request) {},
			wantErr: ErrMissingSessionToken,
		},
		{
			name: "non-bearer scheme falls back to cookie",
			prepare: func(request *http.Request) {
				request.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
			},
			wantErr: ErrMissingSessionToken,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/me/level", http.NoBody)
			testCase.prepare(request)
			claims, err := validator.ValidateRequest(request)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validation failed: %v", err)
			}
			if claims.UserID != testSessionUserID {
				t.Fatalf("unexpected user id: %s", claims.UserID)
			}
		})
	}
}

func TestSessionValidatorLeewayToleratesClockSkew(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	expiredMomentsAgo := signTestToken(t, testSessionIssuer, clockNow.Add(-time.Hour-10*time.Second), time.Hour)

	strict := newTestValidator(t, clockNow)
	if _, err := strict.ValidateToken(expiredMomentsAgo); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token without leeway, got %v", err)
	}

	tolerant, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Leeway:        30 * time.Second,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := tolerant.ValidateToken(expiredMomentsAgo); err != nil {
		t.Fatalf("expected leeway to accept the token, got %v", err)
	}
}
