package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"foodshare-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "foodshare-chat"

var ErrInvalidToken = errors.New("invalid handshake token")

// HandshakeClaims carries a stable account id in Subject; Name and Role are
// display metadata.
type HandshakeClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a handshake token for accountID. It is used by the
// account service that sits in front of the chat, and by tests.
func GenerateToken(key []byte, accountID, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &HandshakeClaims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(key)
	if err != nil {
		log.Printf("[AUTH] ERROR: Failed to sign token for account %s: %v", accountID, err)
		return "", err
	}

	return tokenString, nil
}

func ValidateToken(key []byte, tokenString string) (*HandshakeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HandshakeClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())

	if err != nil {
		log.Printf("[AUTH] JWT Parse Error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*HandshakeClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// Resolver turns a websocket handshake into an Identity.
type Resolver struct {
	key []byte
}

// NewResolver returns a Resolver. An empty key disables token handshakes.
func NewResolver(key string) *Resolver {
	return &Resolver{key: []byte(key)}
}

// Resolve reads the handshake query. A token, when present, wins over the
// userId/userRole parameters and must validate. Without a token the supplied
// userId is used as both key and display name. No userId at all yields an
// anonymous identity.
func (res *Resolver) Resolve(r *http.Request) (models.Identity, error) {
	q := r.URL.Query()

	if tok := q.Get("token"); tok != "" {
		if len(res.key) == 0 {
			return models.Identity{}, fmt.Errorf("%w: token handshakes are disabled", ErrInvalidToken)
		}
		claims, err := ValidateToken(res.key, tok)
		if err != nil {
			return models.Identity{}, err
		}
		id, err := models.NormalizeIdentityKey(claims.Subject)
		if err != nil {
			return models.Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
		}
		name := claims.Name
		if name == "" {
			name = id
		}
		return models.Identity{ID: id, Name: name, Role: models.ParseRole(claims.Role)}, nil
	}

	userID := q.Get("userId")
	if userID == "" {
		return models.Identity{Role: models.ParseRole(q.Get("userRole"))}, nil
	}
	return models.NewGuestIdentity(userID, q.Get("userRole"))
}
