package pipeline

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost defines the computational cost of the bcrypt algorithm.
// Higher values are more secure but slower. 12 is a good balance for 2024.
const bcryptCost = 12

// HashPassword generates a bcrypt hash of the given password.
// The resulting hash is safe to store in a database.
//
// Parameters:
//   - password: The plaintext password to hash
//
// Returns the hashed password string or an error.
//
// Example:
//
//	hash, err := pipeline.HashPassword("user_password123")
//	if err != nil {
//	    return err
//	}
//	// Store hash in database
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies that a plaintext password matches a bcrypt hash.
// Returns nil if the password is correct, or an error if incorrect.
//
// Parameters:
//   - password: The plaintext password to check
//   - hash: The bcrypt hash to compare against
//
// Returns nil if passwords match, error if they don't match or there's an issue.
//
// Example:
//
//	err := pipeline.CheckPassword("user_password123", storedHash)
//	if err != nil {
//	    return pipeline.JSON(401, map[string]string{"error": "invalid password"}), nil
//	}
//	// Password is correct, proceed with login
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// RequireBasicAuth creates middleware that checks HTTP Basic credentials
// against users, a map of username to bcrypt hash (see HashPassword).
// On success the username is stored as the user ID in the request context.
// Otherwise the chain is short-circuited with 401 and a WWW-Authenticate
// challenge for realm.
func RequireBasicAuth(realm string, users map[string]string) Middleware {
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		username, password, ok := r.BasicAuth()
		if !ok {
			return WithHeader(unauthorized("missing credentials"), "WWW-Authenticate", challenge), nil
		}

		hash, known := users[username]
		if !known || CheckPassword(password, hash) != nil {
			return WithHeader(unauthorized("invalid credentials"), "WWW-Authenticate", challenge), nil
		}

		ctx = WithUserID(ctx, username)
		return next.Handle(ctx, r.WithContext(ctx))
	})
}
