package www

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"tillsync/store"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName        = "tillsync_session"
	sessionKeyOperator = "operator"

	// A register stays signed in across a week of shifts; the terminal is
	// physically controlled, so the cookie lifetime is generous.
	sessionMaxAge = 7 * 24 * 60 * 60
)

// sessionStore tracks which operator, if any, is signed in on this browser.
type sessionStore struct {
	cookies *sessions.CookieStore
}

// newSessionStore builds the cookie store from the configured secret. An
// empty or short secret falls back to a random per-process key, which still
// works but signs everyone out on restart.
func newSessionStore(secret string) *sessionStore {
	var key []byte
	if secret != "" {
		key, _ = base64.StdEncoding.DecodeString(secret)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{cookies: cs}
}

func (s *sessionStore) session(r *http.Request) *sessions.Session {
	sess, _ := s.cookies.Get(r, sessionName)
	return sess
}

// operator returns the signed-in operator's username, or ok=false when the
// request carries no valid session.
func (s *sessionStore) operator(r *http.Request) (username string, ok bool) {
	v, exists := s.session(r).Values[sessionKeyOperator]
	if !exists {
		return "", false
	}
	username, ok = v.(string)
	if username == "" {
		return "", false
	}
	return username, ok
}

// signIn binds the session to an authenticated operator account.
func (s *sessionStore) signIn(w http.ResponseWriter, r *http.Request, op *store.Operator) {
	sess := s.session(r)
	sess.Values[sessionKeyOperator] = op.Username
	sess.Save(r, w)
}

// signOut clears the operator binding and expires the cookie.
func (s *sessionStore) signOut(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	delete(sess.Values, sessionKeyOperator)
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

// verifyOperator checks a candidate password against an operator record.
// A nil operator (unknown username) fails the same way as a wrong password
// so login responses don't leak which usernames exist.
func verifyOperator(op *store.Operator, password string) bool {
	if op == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
