package store

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MaxCookieBytes is the per-cookie limit browsers enforce on name plus value.
const MaxCookieBytes = 4096

var (
	errCookieInvalid     = errors.New("cookie value has invalid bytes")
	errHeadersCommitted  = errors.New("response headers already written")
	errNoRequestInFlight = errors.New("cookie tier has no request")
)

type CookieOptions struct {
	Domain   string
	Secure   bool
	HTTPOnly bool
}

// CookieTier is the durable tier: the visitor's cookie jar for this domain.
// Reads see the request's cookies overlaid by writes made in this request.
type CookieTier struct {
	c       *gin.Context
	opts    CookieOptions
	pending map[string]pendingCookie
}

type pendingCookie struct {
	value   string
	deleted bool
}

func NewCookieTier(c *gin.Context, opts CookieOptions) *CookieTier {
	return &CookieTier{
		c:       c,
		opts:    opts,
		pending: make(map[string]pendingCookie),
	}
}

func (t *CookieTier) Name() string { return "cookie" }

func (t *CookieTier) Get(_ context.Context, name string) (string, bool, error) {
	if p, ok := t.pending[name]; ok {
		if p.deleted {
			return "", false, nil
		}
		return p.value, true, nil
	}
	if t.c == nil || t.c.Request == nil {
		return "", false, nil
	}
	cookie, err := t.c.Request.Cookie(name)
	if err != nil {
		return "", false, nil
	}
	if strings.TrimSpace(cookie.Value) == "" {
		return "", false, nil
	}
	return cookie.Value, true, nil
}

// Set emits a Set-Cookie header. Values the browser would drop are not
// recorded, so the adapter's read-back verification fails for them.
func (t *CookieTier) Set(_ context.Context, name, value string, ttl time.Duration) error {
	if t.c == nil || t.c.Writer == nil {
		return errNoRequestInFlight
	}
	if len(name)+len(value) > MaxCookieBytes {
		// the browser drops it silently; read-back will miss
		return nil
	}
	if !validCookieValue(value) {
		return errCookieInvalid
	}
	if t.c.Writer.Written() {
		return errHeadersCommitted
	}

	maxAge := int(ttl.Seconds())
	if maxAge <= 0 {
		maxAge = 0
	}
	t.writeHeader(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   t.opts.Domain,
		MaxAge:   maxAge,
		Secure:   t.opts.Secure,
		HttpOnly: t.opts.HTTPOnly,
		SameSite: http.SameSiteLaxMode,
	})
	t.pending[name] = pendingCookie{value: value}
	return nil
}

func (t *CookieTier) Delete(_ context.Context, name string) error {
	if t.c == nil || t.c.Writer == nil {
		return errNoRequestInFlight
	}
	t.pending[name] = pendingCookie{deleted: true}
	if !t.requestHas(name) {
		t.dropHeader(name)
		return nil
	}
	if t.c.Writer.Written() {
		return errHeadersCommitted
	}
	t.writeHeader(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   t.opts.Domain,
		MaxAge:   -1,
		Secure:   t.opts.Secure,
		HttpOnly: t.opts.HTTPOnly,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// writeHeader replaces any earlier Set-Cookie for the same name in this response.
func (t *CookieTier) writeHeader(cookie *http.Cookie) {
	t.dropHeader(cookie.Name)
	if v := cookie.String(); v != "" {
		t.c.Writer.Header().Add("Set-Cookie", v)
	}
}

func (t *CookieTier) dropHeader(name string) {
	header := t.c.Writer.Header()
	existing := header.Values("Set-Cookie")
	if len(existing) == 0 {
		return
	}
	kept := existing[:0:0]
	for _, line := range existing {
		if strings.HasPrefix(line, name+"=") {
			continue
		}
		kept = append(kept, line)
	}
	header.Del("Set-Cookie")
	for _, line := range kept {
		header.Add("Set-Cookie", line)
	}
}

func (t *CookieTier) requestHas(name string) bool {
	if t.c.Request == nil {
		return false
	}
	_, err := t.c.Request.Cookie(name)
	return err == nil
}

func validCookieValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b < 0x21 || b > 0x7e || b == '"' || b == ',' || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}

var _ Tier = (*CookieTier)(nil)
var _ Tier = (*MemoryTier)(nil)
