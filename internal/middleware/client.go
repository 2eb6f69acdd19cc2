package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	clientInfoKey contextKey = "clientInfo"
	visitorKeyKey contextKey = "visitorKey"

	fingerprintHeader  = "X-Device-Fingerprint"
	adSessionCookie    = "ad_lock_session"
	adSessionCookieTTL = 15 * time.Minute
)

// ClientInfo содержит сетевые идентификаторы посетителя, извлечённые из запроса.
type ClientInfo struct {
	IP          string
	Fingerprint string
}

// WithClientInfo извлекает IP и отпечаток устройства посетителя и кладёт их
// в контекст запроса. IP берётся из X-Forwarded-For (первый адрес цепочки),
// затем из X-Real-IP, затем из адреса соединения.
func WithClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := ClientInfo{
			IP:          clientIP(r),
			Fingerprint: r.Header.Get(fingerprintHeader),
		}
		ctx := context.WithValue(r.Context(), clientInfoKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

// GetClientInfoFromContext извлекает сетевые идентификаторы посетителя из контекста.
func GetClientInfoFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey).(ClientInfo)
	return info, ok
}

// WithVisitorKey выдаёт посетителю сессионный ключ фиксации рекламы и кладёт
// его в контекст. Ключ хранится в отдельной краткоживущей cookie и не
// выводится из данных, которые посетитель мог бы подменить, чтобы перехватить
// чужую фиксацию.
func WithVisitorKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var session string
		if cookie, err := r.Cookie(adSessionCookie); err == nil && cookie.Value != "" {
			session = cookie.Value
		} else {
			session = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     adSessionCookie,
				Value:    session,
				Path:     "/",
				Expires:  time.Now().Add(adSessionCookieTTL),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		key := "guest_" + session
		if accountID, ok := GetAccountIDFromContext(r.Context()); ok {
			key = strconv.FormatInt(accountID, 10) + "_" + session
		}

		ctx := context.WithValue(r.Context(), visitorKeyKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetVisitorKeyFromContext извлекает сессионный ключ фиксации рекламы из контекста.
func GetVisitorKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(visitorKeyKey).(string)
	return key, ok
}
