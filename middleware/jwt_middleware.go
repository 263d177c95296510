package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kiliantyler/kil.dev-sub000/models"
	"github.com/kiliantyler/kil.dev-sub000/pkg/responses"
	"github.com/kiliantyler/kil.dev-sub000/utils"
)

type contextKey string

const AuthInfoKey contextKey = "authInfo"

var errNotAdmin = errors.New("token does not carry the admin role")

// JWTValidationMiddleware admits requests carrying a valid HS256 admin token
// signed with secret.
func JWTValidationMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if tokenStr == "" {
				utils.HandleError(w, responses.UnauthorizedError{Msg: "Missing authorization token."})
				return
			}

			claims, err := ParseAdminToken(tokenStr, secret)
			if err != nil {
				utils.HandleError(w, responses.UnauthorizedError{Msg: "Your token is invalid or expired. Please log in again."})
				return
			}

			ctx := context.WithValue(r.Context(), AuthInfoKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ParseAdminToken(tokenStr string, secret []byte) (*models.AdminClaims, error) {
	claims := &models.AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != models.AdminRole {
		return nil, errNotAdmin
	}
	return claims, nil
}
