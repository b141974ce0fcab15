// Package auth issues tokens to remote eye trackers so only registered
// devices can stream gaze samples.
package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTrackerNotFound = errors.New("tracker not found")
	ErrInvalidCreds    = errors.New("invalid credentials")
	ErrTrackerExists   = errors.New("tracker already registered")
)

// TokenLifetime is how long an issued tracker token stays valid.
const TokenLifetime = 30 * 24 * time.Hour

type Tracker struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SecretHash string `json:"-"`
	CreatedAt  int64  `json:"created_at"`
}

type Claims struct {
	Tracker string `json:"tracker"`
	jwt.RegisteredClaims
}

type Service struct {
	db        *sql.DB
	jwtSecret []byte
}

func NewService(db *sql.DB, secret string) *Service {
	return &Service{
		db:        db,
		jwtSecret: []byte(secret),
	}
}

// InitializeSchema creates the trackers table if it doesn't exist.
func (s *Service) InitializeSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS trackers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	return err
}

func (s *Service) Register(name, secret string) error {
	if name == "" || secret == "" {
		return ErrInvalidCreds
	}
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM trackers WHERE name = ?", name).Scan(&exists)
	if err == nil {
		return ErrTrackerExists
	} else if err != sql.ErrNoRows {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("INSERT INTO trackers (name, secret_hash, created_at) VALUES (?, ?, ?)",
		name, string(hash), time.Now().Unix())
	return err
}

// Login checks a tracker's secret and returns a signed token.
func (s *Service) Login(name, secret string) (string, error) {
	var t Tracker
	err := s.db.QueryRow("SELECT id, name, secret_hash FROM trackers WHERE name = ?", name).
		Scan(&t.ID, &t.Name, &t.SecretHash)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCreds
	} else if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(t.SecretHash), []byte(secret)); err != nil {
		return "", ErrInvalidCreds
	}

	claims := &Claims{
		Tracker: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	// Tokens of removed trackers are rejected.
	var exists int
	if err := s.db.QueryRow("SELECT 1 FROM trackers WHERE name = ?", claims.Tracker).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTrackerNotFound
		}
		return nil, err
	}
	return claims, nil
}

func (s *Service) ListTrackers() ([]Tracker, error) {
	rows, err := s.db.Query("SELECT id, name, created_at FROM trackers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trackers []Tracker
	for rows.Next() {
		var t Tracker
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}
	return trackers, rows.Err()
}

func (s *Service) DeleteTracker(name string) error {
	res, err := s.db.Exec("DELETE FROM trackers WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTrackerNotFound
	}
	return nil
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for WebSocket clients that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// RequireToken rejects requests without a valid tracker token.
func (s *Service) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := TokenFromRequest(r)
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := s.VerifyToken(tok); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
