package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"qms/turno-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type authContextKey struct{}

type authInfo struct {
	OperatorID string
	Role       models.Role
}

var errInvalidToken = errors.New("invalid token")

// AuthMiddleware verifies HS256 bearer tokens issued by the login service and
// stores the operator identity on the request context.
func AuthMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			// A valid token still identifies staff on public routes.
			if info, err := parseToken(secret, bearerToken(r.Header.Get("Authorization"))); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), authContextKey{}, info))
			}
			next.ServeHTTP(w, r)
			return
		}
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		info, err := parseToken(secret, raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseToken(secret, raw string) (authInfo, error) {
	if secret == "" {
		return authInfo{}, errInvalidToken
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return authInfo{}, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authInfo{}, errInvalidToken
	}

	var operatorID string
	switch sub := claims["sub"].(type) {
	case string:
		operatorID = strings.TrimSpace(sub)
	case float64:
		operatorID = strconv.FormatInt(int64(sub), 10)
	}
	if operatorID == "" {
		return authInfo{}, errInvalidToken
	}
	roleName, _ := claims["role"].(string)
	role, err := models.ParseRole(roleName)
	if err != nil {
		return authInfo{}, errInvalidToken
	}
	return authInfo{OperatorID: operatorID, Role: role}, nil
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return authInfo{}, false
	}
	return info, true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (authInfo, bool) {
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return authInfo{}, false
	}
	if !info.Role.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "staff role required")
		return authInfo{}, false
	}
	return info, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	path := r.URL.Path
	switch path {
	case "/healthz", "/metrics":
		return true
	case "/api/v1/tickets":
		return r.Method == http.MethodPost
	case "/api/v1/tickets/active", "/api/v1/queue", "/api/v1/queue/global":
		return r.Method == http.MethodGet
	}
	if strings.HasPrefix(path, "/realtime/") {
		return true
	}
	if strings.HasPrefix(path, "/api/v1/tickets/") && strings.HasSuffix(path, "/cancel") {
		return r.Method == http.MethodPost
	}
	return false
}
