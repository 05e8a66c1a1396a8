// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport holds the pieces shared by the webio transports:
// configuration, request inspection, access checks, the bootstrap page
// and the idle-session reaper.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"code.hybscloud.com/webio"
	"github.com/mssola/useragent"
	"golang.org/x/text/language"
)

// HeaderSessionID carries the session id of the HTTP transport.
const HeaderSessionID = "webio-session-id"

// DefaultCDN is the asset base used when Config.CDN is empty and no
// StaticPath is configured.
const DefaultCDN = "https://cdn.jsdelivr.net/gh/wang0618/PyWebIO-assets@v1.8.3/"

// Config configures a transport handler. The zero value is usable after
// WithDefaults.
type Config struct {
	Debug       bool
	Title       string
	Description string
	// CDN is the asset base URL of the bootstrap page. StaticPath is used
	// instead when the client opts out with _pywebio_cdn=false.
	CDN        string
	StaticPath string
	// AllowedOrigins are shell patterns matched against the Origin header
	// of cross-site requests. Same-site requests are always accepted.
	AllowedOrigins []string
	// CheckOrigin overrides AllowedOrigins when set.
	CheckOrigin func(origin string) bool
	// AllowCIDRs restricts clients by address. Empty allows everyone.
	AllowCIDRs []string

	SessionExpire    time.Duration
	CleanupInterval  time.Duration
	WindowSize       int
	PostGrace        time.Duration
	ReconnectTimeout time.Duration
	MaxPayloadSize   int64

	Logger *slog.Logger
}

// WithDefaults returns c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Title == "" {
		c.Title = "WebIO Application"
	}
	if c.CDN == "" {
		c.CDN = DefaultCDN
	}
	if c.StaticPath == "" {
		c.StaticPath = "/static/"
	}
	if c.SessionExpire == 0 {
		c.SessionExpire = 600 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 300 * time.Second
	}
	if c.WindowSize == 0 {
		c.WindowSize = 4
	}
	if c.PostGrace == 0 {
		c.PostGrace = 100 * time.Millisecond
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = 200 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.SessionExpire < 0:
		return errors.New("session expire must not be negative")
	case c.CleanupInterval < 0:
		return errors.New("cleanup interval must not be negative")
	case c.WindowSize < 0:
		return errors.New("window size must not be negative")
	case c.ReconnectTimeout < 0:
		return errors.New("reconnect timeout must not be negative")
	case c.MaxPayloadSize < 0:
		return errors.New("max payload size must not be negative")
	}
	for _, cidr := range c.AllowCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR: %s", cidr)
		}
	}
	for _, p := range c.AllowedOrigins {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid origin pattern: %s", p)
		}
	}
	return nil
}

// ParseSize parses a byte count such as "200M" or "1.5g".
func ParseSize(s string) (int64, error) {
	return webio.ParseFileSize(s)
}

// SessionInfo extracts the session metadata from the request that
// creates a session.
func SessionInfo(r *http.Request, protocol, backend string) webio.Info {
	raw := r.Header.Get("User-Agent")
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	info := webio.Info{
		UserAgent: webio.UserAgent{
			Raw:            raw,
			Browser:        browser,
			BrowserVersion: version,
			OS:             ua.OS(),
			Platform:       ua.Platform(),
			Mobile:         ua.Mobile(),
			Bot:            ua.Bot(),
		},
		ServerHost: r.Host,
		Origin:     r.Header.Get("Origin"),
		UserIP:     remoteHost(r),
		Protocol:   protocol,
		Backend:    backend,
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		info.Language = tags[0].String()
	}
	return info
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsAllowedClient reports whether ip may use the server. Loopback and
// unknown addresses are always allowed.
func IsAllowedClient(ip net.IP, allowCIDRs []string) bool {
	if ip == nil || ip.IsLoopback() || len(allowCIDRs) == 0 {
		return true
	}
	for _, cidr := range allowCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientAllowed applies c.AllowCIDRs to the request's remote address.
func (c Config) ClientAllowed(r *http.Request) bool {
	return IsAllowedClient(net.ParseIP(remoteHost(r)), c.AllowCIDRs)
}

// OriginAllowed reports whether the request's Origin may open a session.
// Requests without Origin are same-site.
func (c Config) OriginAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || sameSite(origin, r.Host) {
		return true
	}
	if c.CheckOrigin != nil {
		return c.CheckOrigin(origin)
	}
	for _, p := range c.AllowedOrigins {
		if ok, _ := path.Match(p, origin); ok {
			return true
		}
	}
	return false
}

func sameSite(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// Guard rejects requests from disallowed client addresses with 403.
func (c Config) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.ClientAllowed(r) {
			WriteJSON(w, http.StatusForbidden, map[string]any{"error": "Forbidden for client IP."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Encodable returns cmds without the commands that cannot be encoded.
// Each dropped command is logged; the others keep their order. cmds is
// filtered in place.
func Encodable(log *slog.Logger, sessionID string, cmds []webio.Command) []webio.Command {
	out := cmds[:0]
	for _, cmd := range cmds {
		if _, err := webio.EncodeCommand(cmd); err != nil {
			log.Warn("unencodable command dropped", "session_id", sessionID, "command", cmd.Command, "error", err)
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// WriteJSON writes payload as an uncached JSON response.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var page = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<meta name="description" content="{{.Description}}">
<link rel="stylesheet" href="{{.Base}}css/pywebio.min.css">
</head>
<body>
<div class="pywebio"><div class="container no-fix-height" id="output-container"></div></div>
<div id="input-container"></div>
<script src="{{.Base}}js/pywebio.min.js"></script>
<script>
const urlparams = new URLSearchParams(window.location.search);
WebIO.startWebIOClient({
    output_container_elem: document.getElementById("output-container"),
    input_container_elem: document.getElementById("input-container"),
    backend_address: urlparams.get("pywebio_api") || "",
    app_name: urlparams.get("app") || "index",
    protocol: "{{.Protocol}}",
    runtime_config: {debug: {{.Debug}}}
});
</script>
</body>
</html>
`))

// Probe answers the "?test" health check and reports whether it did.
func Probe(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("test") == "" {
		return false
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
	return true
}

// RenderPage writes the bootstrap page. protocol is "ws", "http" or "sse".
func (c Config) RenderPage(w http.ResponseWriter, r *http.Request, protocol string) {
	base := c.CDN
	if r.URL.Query().Get("_pywebio_cdn") == "false" || c.CDN == "" {
		base = c.StaticPath
	}
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err := page.Execute(w, struct {
		Title, Description, Base, Protocol string
		Debug                              bool
	}{c.Title, c.Description, base, protocol, c.Debug})
	if err != nil && c.Logger != nil {
		c.Logger.Warn("render page", "error", err)
	}
}

// ReadEvents decodes the events of a POST body. An octet-stream body is
// one binary envelope; anything else is JSON text.
func ReadEvents(w http.ResponseWriter, r *http.Request, limit int64) ([]webio.Event, error) {
	body := io.Reader(r.Body)
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
		ev, err := webio.DecodeBinaryEvent(data)
		if err != nil {
			return nil, err
		}
		return []webio.Event{ev}, nil
	}
	return webio.DecodeEvents(data)
}

// LookupApp selects the application named by the request's app
// parameter.
func LookupApp(apps webio.Apps, r *http.Request) (webio.Application, bool) {
	return apps.Lookup(r.URL.Query().Get("app"))
}

// RunReaper calls sweep with the current time every interval until stop
// is closed.
func RunReaper(stop <-chan struct{}, interval time.Duration, sweep func(now time.Time)) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		sweep(time.Now())
	}
}
