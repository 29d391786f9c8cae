package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
)

// Callback tokens bind a redirect callback to the order ref it was minted
// for, so a shopper cannot replay a success URL against another order. The
// lifetime covers a slow checkout plus gateway-side delays.
const callbackTokenTTL = 2 * time.Hour

// MintCallbackToken signs the per-order correlation token carried in the
// success and failure URLs as session_check.
func MintCallbackToken(secret, orderRef string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   orderRef,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(callbackTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyCallbackToken checks signature, expiry and order binding. Any
// mismatch is an AuthenticityError and must be rejected before order lookup.
func VerifyCallbackToken(secret, tokenStr, orderRef string) error {
	if tokenStr == "" {
		return &errs.AuthenticityError{Reason: "missing session_check token"}
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return &errs.AuthenticityError{Reason: "invalid session_check token: " + err.Error()}
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != orderRef {
		return &errs.AuthenticityError{Reason: "session_check token does not match order"}
	}
	return nil
}
