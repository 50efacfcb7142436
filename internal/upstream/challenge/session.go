package challenge

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Session is the passed-challenge state shared by every request of a Client:
// the clearance cookies and whether the site has been primed.
//
// It is an http.CookieJar so it can be installed on the HTTP client once; a
// repass swaps the jar underneath without touching the client. Construct one
// per process and hand it to New.
type Session struct {
	mu         sync.RWMutex
	jar        http.CookieJar
	primed     bool
	generation uint64
}

// NewSession returns an empty, unprimed session.
func NewSession() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Session{jar: jar}, nil
}

func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	return jar.Cookies(u)
}

// Generation increases by one on every reset. Requests remember the
// generation they ran under so that concurrent failures trigger one repass,
// not one each.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Session) Primed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primed
}

func (s *Session) markPrimed() {
	s.mu.Lock()
	s.primed = true
	s.mu.Unlock()
}

// reset drops all cookies and the primed flag, unless another caller already
// reset the session since generation seen. It reports whether it reset.
func (s *Session) reset(seen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != seen {
		return false, nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return false, err
	}
	s.jar = jar
	s.primed = false
	s.generation++
	return true, nil
}
