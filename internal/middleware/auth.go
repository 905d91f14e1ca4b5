package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Staff is the authenticated staff member and the company they act for.
type Staff struct {
	StaffID   int64
	CompanyID int64
}

type contextKey string

const staffKey contextKey = "staff"

// WithStaff stores s in ctx.
func WithStaff(ctx context.Context, s Staff) context.Context {
	return context.WithValue(ctx, staffKey, s)
}

// StaffFromContext returns the staff member set by StaffAuth.
func StaffFromContext(ctx context.Context) (Staff, bool) {
	s, ok := ctx.Value(staffKey).(Staff)
	return s, ok
}

// StaffAuth validates the bearer token and puts the staff and company ids from its claims into
// the request context.
func StaffAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			staff, err := validateToken(secret, parts[1])
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), staff)))
		})
	}
}

func validateToken(secret, tokenString string) (Staff, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Staff{}, err
	}
	if !token.Valid {
		return Staff{}, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Staff{}, errors.New("unexpected claims type")
	}

	staffID, err := intClaim(claims, "staff_id")
	if err != nil {
		return Staff{}, err
	}
	companyID, err := intClaim(claims, "company_id")
	if err != nil {
		return Staff{}, err
	}
	return Staff{StaffID: staffID, CompanyID: companyID}, nil
}

// intClaim reads a positive integer claim. JSON numbers decode as float64.
func intClaim(claims jwt.MapClaims, name string) (int64, error) {
	v, ok := claims[name].(float64)
	if !ok || v <= 0 || v != float64(int64(v)) {
		return 0, fmt.Errorf("claim %s missing or invalid", name)
	}
	return int64(v), nil
}
