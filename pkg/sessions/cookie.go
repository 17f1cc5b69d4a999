package sessions

import (
	"net/http"
	"time"
)

// Cookie builds the browser cookie that carries s. It lives as long as the
// idle timeout and is never readable from scripts.
func (m *Manager) Cookie(name string, s *Session, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.timeout / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
