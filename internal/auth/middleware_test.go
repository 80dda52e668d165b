package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

// dummyHandler returns a simple 200 OK handler used as the "next" handler in middleware tests.
func dummyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func mustSign(t *testing.T, secret []byte, role Role, ttl time.Duration) string {
	t.Helper()
	tok, err := SignJWT(secret, role, "tester", ttl)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	return tok
}

func Test_NewAuthMiddleware_Cases(t *testing.T) {
	const correctToken = "correct-token"

	tests := []struct {
		name           string
		configToken    string
		secret         []byte
		authHeader     func(t *testing.T) string
		wantStatusCode int
		wantRole       Role
	}{
		{
			name:           "valid static token grants admin",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "Bearer correct-token" },
			wantStatusCode: http.StatusOK,
			wantRole:       RoleAdmin,
		},
		{
			name:           "missing header returns 401",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "" },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong token returns 401",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "Bearer wrong-token" },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "malformed header returns 401",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "NotBearer token" },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "empty config disables auth and grants admin",
			authHeader:     func(*testing.T) string { return "" },
			wantStatusCode: http.StatusOK,
			wantRole:       RoleAdmin,
		},
		{
			name:           "Bearer with extra spaces returns 401",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "Bearer  correct-token" },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "Bearer prefix with no token returns 401",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "Bearer " },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "case sensitive Bearer prefix",
			configToken:    correctToken,
			authHeader:     func(*testing.T) string { return "bearer correct-token" },
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:   "viewer jwt carries viewer role",
			secret: testSecret,
			authHeader: func(t *testing.T) string {
				return "Bearer " + mustSign(t, testSecret, RoleViewer, time.Minute)
			},
			wantStatusCode: http.StatusOK,
			wantRole:       RoleViewer,
		},
		{
			name:        "jwt accepted alongside static token",
			configToken: correctToken,
			secret:      testSecret,
			authHeader: func(t *testing.T) string {
				return "Bearer " + mustSign(t, testSecret, RoleOperator, 0)
			},
			wantStatusCode: http.StatusOK,
			wantRole:       RoleOperator,
		},
		{
			name:   "jwt with wrong secret returns 401",
			secret: testSecret,
			authHeader: func(t *testing.T) string {
				return "Bearer " + mustSign(t, []byte("other"), RoleAdmin, time.Minute)
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:   "expired jwt returns 401",
			secret: testSecret,
			authHeader: func(t *testing.T) string {
				return "Bearer " + mustSign(t, testSecret, RoleAdmin, -time.Minute)
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:   "jwt with unknown role returns 401",
			secret: testSecret,
			authHeader: func(t *testing.T) string {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "root"}).SignedString(testSecret)
				if err != nil {
					t.Fatalf("sign: %v", err)
				}
				return "Bearer " + tok
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:        "jwt is rejected when no secret is configured",
			configToken: correctToken,
			authHeader: func(t *testing.T) string {
				return "Bearer " + mustSign(t, testSecret, RoleAdmin, time.Minute)
			},
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRole Role
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, _ := IdentityFrom(r.Context())
				gotRole = id.Role
				w.WriteHeader(http.StatusOK)
			})
			handler := NewAuthMiddleware(tt.configToken, tt.secret)(next)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if h := tt.authHeader(t); h != "" {
				req.Header.Set("Authorization", h)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatusCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantStatusCode)
			}
			if gotRole != tt.wantRole {
				t.Errorf("role = %q, want %q", gotRole, tt.wantRole)
			}
		})
	}
}

func Test_NewAuthMiddleware_BlocksRequestFromNext(t *testing.T) {
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := NewAuthMiddleware("my-token", nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Error("expected next handler NOT to be called when auth fails")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func Test_ParseJWT_Cases(t *testing.T) {
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "root"}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "admin"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  []byte
		wantErr bool
	}{
		{name: "valid", token: mustSign(t, testSecret, RoleViewer, time.Minute), secret: testSecret},
		{name: "empty token", token: "", secret: testSecret, wantErr: true},
		{name: "empty secret", token: mustSign(t, testSecret, RoleViewer, 0), wantErr: true},
		{name: "unknown role", token: badRole, secret: testSecret, wantErr: true},
		{name: "alg none", token: unsigned, secret: testSecret, wantErr: true},
		{name: "garbage", token: "not.a.jwt", secret: testSecret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseJWT(tt.token, tt.secret)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got claims %+v", claims)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.Subject != "tester" {
				t.Errorf("Subject = %q, want tester", claims.Subject)
			}
		})
	}
}

func Test_Require_Cases(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		required Role
		wantErr  error
		wantCode int
	}{
		{name: "no identity", ctx: context.Background(), required: RoleViewer, wantErr: ErrUnauthorized, wantCode: http.StatusUnauthorized},
		{name: "viewer reads status", ctx: WithIdentity(context.Background(), Identity{Role: RoleViewer}), required: RoleViewer},
		{name: "viewer cannot operate", ctx: WithIdentity(context.Background(), Identity{Role: RoleViewer}), required: RoleOperator, wantErr: ErrForbidden, wantCode: http.StatusForbidden},
		{name: "operator cannot administer", ctx: WithIdentity(context.Background(), Identity{Role: RoleOperator}), required: RoleAdmin, wantErr: ErrForbidden, wantCode: http.StatusForbidden},
		{name: "admin does everything", ctx: WithIdentity(context.Background(), Identity{Role: RoleAdmin}), required: RoleAdmin},
		{name: "unknown role is below viewer", ctx: WithIdentity(context.Background(), Identity{Role: "guest"}), required: RoleViewer, wantErr: ErrForbidden, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Require(tt.ctx, tt.required)
			if err != tt.wantErr {
				t.Fatalf("Require() = %v, want %v", err, tt.wantErr)
			}
			if err != nil && StatusFor(err) != tt.wantCode {
				t.Errorf("StatusFor() = %d, want %d", StatusFor(err), tt.wantCode)
			}
		})
	}
}

func Test_ActorFrom(t *testing.T) {
	if got := ActorFrom(context.Background()); got != "" {
		t.Errorf("ActorFrom(empty) = %q, want empty", got)
	}
	if got := ActorFrom(WithIdentity(context.Background(), Identity{Role: RoleViewer})); got != "viewer" {
		t.Errorf("ActorFrom(role only) = %q, want viewer", got)
	}
	if got := ActorFrom(WithIdentity(context.Background(), Identity{Role: RoleViewer, Subject: "octoprint"})); got != "octoprint" {
		t.Errorf("ActorFrom(subject) = %q, want octoprint", got)
	}
}

func Test_HTTPContextFunc_CopiesIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{Role: RoleOperator}))

	ctx := HTTPContextFunc(context.Background(), req)
	id, ok := IdentityFrom(ctx)
	if !ok || id.Role != RoleOperator {
		t.Errorf("IdentityFrom() = %+v, %v; want operator", id, ok)
	}

	bare := HTTPContextFunc(context.Background(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if _, ok := IdentityFrom(bare); ok {
		t.Error("expected no identity for unauthenticated request")
	}
}
