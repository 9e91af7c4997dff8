package offline

import (
	"net/http"
	"strings"
)

// Request modes, as carried by the Sec-Fetch-Mode header
const (
	ModeNavigate   = "navigate"
	ModeNoCORS     = "no-cors"
	ModeCORS       = "cors"
	ModeSameOrigin = "same-origin"
	ModeWebSocket  = "websocket"
)

// Mode returns the mode of the request. Sec-Fetch-Mode is used when present, otherwise a GET that accepts
// text/html is a navigation and everything else is no-cors
func Mode(req *http.Request) string {
	if mode := strings.ToLower(strings.TrimSpace(req.Header.Get("Sec-Fetch-Mode"))); mode != "" {
		return mode
	}
	if req.Method == http.MethodGet && acceptsHTML(req.Header.Values("Accept")) {
		return ModeNavigate
	}
	return ModeNoCORS
}

// IsNavigation reports whether the request is a top level page load
func IsNavigation(req *http.Request) bool {
	return Mode(req) == ModeNavigate
}

func acceptsHTML(values []string) bool {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			mediaType, _, _ := strings.Cut(part, ";")
			if strings.EqualFold(strings.TrimSpace(mediaType), "text/html") {
				return true
			}
		}
	}
	return false
}
