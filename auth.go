package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const JWT_CTX_KEY ctxKey = "jwt"

var (
	JWT_HMAC_SECRET []byte
	JWT_LIFESPAN    time.Duration = time.Hour
)

// jwtSecret uses the configured secret, or a fresh random one which invalidates every token on
// restart.
func jwtSecret(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return secret
}

//---
// Structs
//

// Operator is a local account allowed to stop runs and annotate experiments. Only admins may
// rename or delete recorded runs.
type Operator struct {
	ID       int    `storm:"increment"` // pk
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// Sets the Operator.Password to the hashed value for the provided plain text
func (o *Operator) SetPassword(pass []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.Password = string(hash)
	return nil
}

// Compares Operator.Password with the provided plain text.
// Returns values directly as provided by the bcrypt library for downstream processing.
func (o *Operator) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(o.Password), pass)
}

// OperatorClaims is what a token says about who is acting on the rig.
type OperatorClaims struct {
	jwt.StandardClaims
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// Who is the label recorded against runs this operator stops or describes.
func (c *OperatorClaims) Who() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

//---
// Generic payloads
//---

// Login payload
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
}

//---
// Helper functions
//

// newJWT signs a token for op, valid for JWT_LIFESPAN.
func newJWT(op *Operator) (ts string, err error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ENV.JWT_ISSUER,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(JWT_LIFESPAN).Unix(),
			Subject:   op.Email,
		},
		Name:  op.Name,
		Admin: op.Admin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(JWT_HMAC_SECRET)
}

// operatorFrom returns the claims ValidateJWT stored on the request, if any.
func operatorFrom(ctx context.Context) (claims *OperatorClaims, ok bool) {
	token, ok := ctx.Value(JWT_CTX_KEY).(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok = token.Claims.(*OperatorClaims)
	return claims, ok
}

// operatorLabel names the operator behind r for run metadata, empty when unauthenticated.
func operatorLabel(r *http.Request) string {
	if claims, ok := operatorFrom(r.Context()); ok {
		return claims.Who()
	}
	return ""
}

func findOperator(email string) (op Operator, err error) {
	err = ENV.DB.One("Email", email, &op)
	return
}

//---
// Views
//---

// Login looks up an operator, verifies the password and returns a token
func Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	op, err := findOperator(data.Email)
	if err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err = op.VerifyPassword([]byte(data.Password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			render.Render(w, r, ErrPermissionDenied(errors.New("Invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	tokenString, err := newJWT(&op)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

// JWTRefresh issues a new token from the operator's current record, so a removed operator or a
// revoked admin flag takes effect at the next refresh.
func JWTRefresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFrom(r.Context())
	if !ok {
		render.Render(w, r, ErrUnauthorized(JWTEmpty))
		return
	}

	op, err := findOperator(claims.Subject)
	if err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrUnauthorized(ErrUnknownOperator))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	tokenString, err := newJWT(&op)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

//---
// Authentication middleware
//---

var (
	JWTEmpty           = errors.New("Bearer token not provided")
	ErrUnknownOperator = errors.New("Operator no longer exists")
	ErrNotAdmin        = errors.New("Only admins may change recorded experiments")
)

func tokenFrom(r *http.Request) string {
	if tokenStr := r.URL.Query().Get("jwt"); tokenStr != "" {
		return tokenStr
	}

	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}

	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}
	return ""
}

// ValidateJWT requires a valid operator token and stores it on the request context.
func ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFrom(r)
		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}

		token, err := jwt.ParseWithClaims(tokenStr,
			&OperatorClaims{},
			func(*jwt.Token) (interface{}, error) { return JWT_HMAC_SECRET, nil })

		if err != nil || !token.Valid {
			var jwterr *jwt.ValidationError
			expired := errors.As(err, &jwterr) && jwterr.Errors&jwt.ValidationErrorExpired != 0

			err = errors.New("Invalid token")
			if expired {
				err = errors.New("Token has expired")
			}

			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), JWT_CTX_KEY, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must sit behind ValidateJWT.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := operatorFrom(r.Context())
		if !ok {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}
		if !claims.Admin {
			render.Render(w, r, ErrPermissionDenied(ErrNotAdmin))
			return
		}
		next.ServeHTTP(w, r)
	})
}
