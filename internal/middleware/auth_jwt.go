package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenAlgorithm = errors.New("token algorithm not accepted")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenSubject   = errors.New("token has no subject")
)

// clockSkew tolerates small clock drift between the issuer and this process.
const clockSkew = 30 * time.Second

// TokenClaims is the HS256 payload. Sub identifies the quota owner; an Exp of
// zero never expires.
type TokenClaims struct {
	Sub      string `json:"sub"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

type ownerKey struct{}

var hs256Header = mustSegment(tokenHeader{Alg: "HS256", Typ: "JWT"})

func SignJWT(secret string, claims TokenClaims) (string, error) {
	payload, err := segment(claims)
	if err != nil {
		return "", err
	}
	signing := hs256Header + "." + payload
	return signing + "." + signature(secret, signing), nil
}

// VerifyJWT checks an HS256 token and returns its claims.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	return verifyAt(secret, token, time.Now())
}

func verifyAt(secret, token string, now time.Time) (*TokenClaims, error) {
	head, payload, sig, ok := splitToken(token)
	if !ok {
		return nil, ErrTokenMalformed
	}

	var hdr tokenHeader
	if err := decodeSegment(head, &hdr); err != nil {
		return nil, ErrTokenMalformed
	}
	if hdr.Alg != "HS256" {
		return nil, ErrTokenAlgorithm
	}
	if !hmac.Equal([]byte(signature(secret, head+"."+payload)), []byte(sig)) {
		return nil, ErrTokenSignature
	}

	var claims TokenClaims
	if err := decodeSegment(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if claims.Exp != 0 && now.Add(-clockSkew).Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, ErrTokenSubject
	}
	return &claims, nil
}

func splitToken(token string) (head, payload, sig string, ok bool) {
	head, rest, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", "", false
	}
	payload, sig, ok = strings.Cut(rest, ".")
	if !ok || strings.Contains(sig, ".") || head == "" || payload == "" || sig == "" {
		return "", "", "", false
	}
	return head, payload, sig, true
}

func signature(secret, signing string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func segment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func mustSegment(v any) string {
	s, err := segment(v)
	if err != nil {
		panic(err)
	}
	return s
}

func decodeSegment(s string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// AuthJWT requires a bearer token and stores its subject as the caller's
// owner id.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization header", false)
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					msg = "token expired"
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", msg, false)
				return
			}
			noteOwner(r.Context(), claims.Sub)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.Sub)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, userID)
}
