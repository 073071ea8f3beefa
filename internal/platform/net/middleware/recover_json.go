package middleware

import (
	stdhttp "net/http"
	"runtime/debug"

	perr "enrichd/internal/platform/errors"
	"enrichd/internal/platform/logger"
	pnet "enrichd/internal/platform/net"
	phttp "enrichd/internal/platform/net/http"
)

// RecoverJSON turns a handler panic into a 500 envelope and logs the stack
func RecoverJSON(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == stdhttp.ErrAbortHandler {
				panic(v)
			}
			logger.Named("http").Error().
				Str("request_id", pnet.RequestID(r.Context())).
				Str("path", r.URL.Path).
				Interface("panic", v).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
			phttp.WriteError(w, r, perr.PanicErrf("panic recovered"))
		}()
		next.ServeHTTP(w, r)
	})
}
