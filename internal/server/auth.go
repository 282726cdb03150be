package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	restful "github.com/emicklei/go-restful/v3"

	"contentsync/internal/common"
	"contentsync/internal/gid"
	"contentsync/internal/remote"
)

// Routes that establish a connection are exempt from the origin check:
// when they run, the bidirectional link does not exist yet.
var handshakeRoutes = map[string]struct{}{
	"/check_auth":     {},
	"/add_connection": {},
}

// authFilter guards every route. Credentials are HTTP Basic, the
// password being the obfuscated application password as the registry
// stores it. For established routes the caller's Origin header must
// also match the address its connection was registered under, so a
// leaked credential alone is not enough to act as a peer.
func (h *Handler) authFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	ctx := req.Request.Context()

	login, secret, ok := req.Request.BasicAuth()
	if !ok {
		h.writeFailure(resp, "credentials required", remote.CodeNotAuthorized, http.StatusUnauthorized)
		return
	}
	conn, err := h.peers.ByLogin(ctx, login)
	if err != nil {
		h.writeFailure(resp, "unknown login", remote.CodeNotAuthorized, http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(conn.Secret)) != 1 {
		h.writeFailure(resp, "invalid credentials", remote.CodeNotAuthorized, http.StatusUnauthorized)
		return
	}

	if !isHandshake(req.SelectedRoutePath()) {
		origin := gid.CanonicalAddr(req.Request.Header.Get(common.OriginHeader))
		if origin == "" || origin != conn.Address {
			h.writeFailure(resp, "no connection for origin", remote.CodeNotConnected, http.StatusForbidden)
			return
		}
	}

	chain.ProcessFilter(req, resp)
}

func isHandshake(routePath string) bool {
	for suffix := range handshakeRoutes {
		if strings.HasSuffix(routePath, suffix) {
			return true
		}
	}
	return false
}
