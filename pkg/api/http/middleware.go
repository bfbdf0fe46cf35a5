package http

import (
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

// corsMiddleware lets pages served elsewhere call the orchestration routes
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		h.Set("Access-Control-Expose-Headers", "Location")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestOrigin returns the scheme and host the client used to reach this server.
// Forwarding headers are honoured only when trusted and both present.
func requestOrigin(r *http.Request, trustForwarded bool) (scheme, host string) {
	if trustForwarded {
		proto := r.Header.Get("X-Forwarded-Proto")
		fwdHost := r.Header.Get("X-Forwarded-Host")
		if proto != "" && fwdHost != "" {
			return proto, fwdHost
		}
	}

	scheme = "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme, r.Host
}

// localOrigin returns the address the connection was accepted on. Unlike the
// Host header it is chosen by this server, not by the client.
func localOrigin(r *http.Request) (*url.URL, bool) {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok || addr == nil {
		return nil, false
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, false
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := tcp.IP.String()
	if tcp.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(tcp.Port))}, true
}
