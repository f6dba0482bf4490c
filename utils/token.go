package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const RoleOperator = "operator"

type JwtCustomClaim struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.StandardClaims
}

func JwtGenerate(secret []byte, name, role string, lifespan time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("API_SECRET is required")
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		Name: name,
		Role: role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(lifespan).Unix(),
			IssuedAt:  now.Unix(),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
