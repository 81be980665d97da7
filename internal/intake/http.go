package intake

import (
	"io"
	"net/http"
)

// ServeHTTP adapts Handle to net/http
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
	}

	if r.Body != nil {
		limit := h.opts.MaxBodyBytes
		body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err == nil {
			if int64(len(body)) > limit {
				req.BodyTooLarge = true
				body = body[:limit]
			}
			req.Body = body
		}
	}

	writeResponse(w, h.Handle(r.Context(), req))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	for key, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
