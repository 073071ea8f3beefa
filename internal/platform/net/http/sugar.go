package http

import "net/http"

// GetJSON mounts fn on GET path, writing its result or error as an Envelope
func GetJSON(r Router, path string, fn func(*http.Request) (any, error)) {
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		out, err := fn(req)
		if err != nil {
			WriteError(w, req, err)
			return
		}
		WriteData(w, req, out)
	})
}
