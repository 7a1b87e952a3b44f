package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
)

const userContextKey = "UserID"

// UserClaims represents JWT claims for authenticated accounts.
type UserClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(userID, secret string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid && claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		userID, err := parseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(userContextKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated account ID from context.
func CurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

func (r *credentialsRequest) normalize() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" || r.Password == "" {
		return apperr.Validation("email and password are required")
	}
	return nil
}

// registerUser creates an account funded with the configured initial cash.
func (s *Server) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.badRequest(c, "invalid email format")
		return
	}
	if len(req.Password) < 8 {
		s.badRequest(c, "password must be at least 8 characters")
		return
	}

	pwHash, err := hashPassword(req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	now := time.Now().UTC()
	account := db.Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: pwHash,
		Cash:         s.opts.InitialCash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.Queries().CreateAccount(c.Request.Context(), account); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			s.respondError(c, apperr.ErrEmailTaken)
			return
		}
		s.respondError(c, err)
		return
	}

	s.log.Info("account registered", zap.String("account_id", account.ID))
	c.JSON(http.StatusCreated, gin.H{
		"user_id": account.ID,
		"email":   account.Email,
		"cash":    account.Cash,
	})
}

// loginUser exchanges credentials for a bearer token.
func (s *Server) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		s.respondError(c, err)
		return
	}

	account, err := s.DB.Queries().GetAccountByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.respondError(c, apperr.ErrInvalidCredentials)
			return
		}
		s.respondError(c, err)
		return
	}
	if err := checkPassword(account.PasswordHash, req.Password); err != nil {
		s.respondError(c, apperr.ErrInvalidCredentials)
		return
	}

	expiresAt := time.Now().Add(s.opts.TokenTTL)
	token, err := generateToken(account.ID, s.opts.JWTSecret, expiresAt)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user_id":    account.ID,
		"user_email": account.Email,
	})
}
