package web

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gate"
)

const (
	sessionName = "portal_session"

	keyContractType   = "contractType"
	keyAccessVerified = "accessVerified"
	keySessionID      = "sid"
)

// NewCookieStore returns the browser-session store. MaxAge 0 makes the
// cookie expire with the browser session.
func NewCookieStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.MaxAge(0)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}

// browserSession returns the visitor's session. A cookie that no longer
// decodes yields a fresh session.
func (s *Server) browserSession(r *http.Request) *sessions.Session {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		s.logger.Debug("discarding unreadable session cookie", "error", err)
	}
	return sess
}

func flagsOf(sess *sessions.Session) gate.Flags {
	ct, _ := sess.Values[keyContractType].(string)
	av, _ := sess.Values[keyAccessVerified].(string)
	return gate.Flags{ContractType: ct, AccessVerified: av}
}

func setFlags(sess *sessions.Session, f gate.Flags) {
	sess.Values[keyContractType] = f.ContractType
	sess.Values[keyAccessVerified] = f.AccessVerified
}

// clearFlags drops the gate flags but keeps the session ID, so the cached
// identity survives.
func clearFlags(sess *sessions.Session) {
	delete(sess.Values, keyContractType)
	delete(sess.Values, keyAccessVerified)
}

// sessionID returns the session's identity-cache key, creating one when
// absent. The second result reports whether the session must be saved.
func sessionID(sess *sessions.Session) (string, bool) {
	if sid, ok := sess.Values[keySessionID].(string); ok && sid != "" {
		return sid, false
	}
	sid := uuid.NewString()
	sess.Values[keySessionID] = sid
	return sid, true
}

func verifiedFor(f gate.Flags, tier domain.Tier) bool {
	return f.AccessVerified == gate.VerifiedValue && f.ContractType == string(tier)
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Save(r, w); err != nil {
		s.logger.Error("failed to save session", "error", err)
	}
}
