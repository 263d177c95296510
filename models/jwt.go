package models

import (
    "github.com/golang-jwt/jwt/v4"
)

const AdminRole = "admin"

type AdminClaims struct {
    jwt.RegisteredClaims
    Role string `json:"role"`
}
