package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ThatCatDev/tanrenai/gemma/pkg/api"
)

// maxBodyBytes bounds request bodies read before forwarding.
const maxBodyBytes = 32 << 20

// ErrInterrupted is the cancellation cause given to a request preempted
// by a newer one.
var ErrInterrupted = errors.New("interrupted by a newer request")

// AcquireFunc admits one inference request. It returns a context that is
// cancelled when the request is preempted, and a release func.
type AcquireFunc func(ctx context.Context, stream bool) (context.Context, func(), error)

// ProxyHandler forwards OpenAI inference routes to llama-server.
type ProxyHandler struct {
	BaseURL func() string
	Acquire AcquireFunc
	Client  *http.Client
	Log     logrus.FieldLogger
}

func (h *ProxyHandler) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *ProxyHandler) logger() logrus.FieldLogger {
	if h.Log != nil {
		return h.Log
	}
	return logrus.StandardLogger()
}

// ServeHTTP forwards r.URL.Path unchanged.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "failed to read request body: "+err.Error())
		return
	}

	var flags api.CompletionFlags
	if err := json.Unmarshal(body, &flags); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}

	ctx, release, err := h.Acquire(r.Context(), flags.Stream)
	if err != nil {
		// Client went away while queued.
		return
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL()+r.URL.Path, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		if interrupted(ctx) {
			h.logger().WithField("path", r.URL.Path).Info("request interrupted before response")
			if flags.Stream {
				writeSSEHeaders(w)
				writeDone(w)
				return
			}
		}
		writeError(w, http.StatusBadGateway, "backend_error", "llama-server error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		copyHeader(w.Header(), resp.Header, "Content-Type")
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}

	if !flags.Stream {
		copyHeader(w.Header(), resp.Header, "Content-Type")
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	writeSSEHeaders(w)
	h.streamBody(ctx, w, resp.Body)
}

// streamBody copies SSE data through, flushing after every read. A stream
// cut short by a newer request is closed with a [DONE] event, after
// terminating whatever event the cut landed in.
func (h *ProxyHandler) streamBody(ctx context.Context, w http.ResponseWriter, body io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	var tail []byte // last two bytes sent
	for {
		n, err := body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
			tail = append(tail, buf[max(n-2, 0):n]...)
			tail = tail[max(len(tail)-2, 0):]
		}
		if err != nil {
			if interrupted(ctx) {
				h.logger().Info("stream interrupted by a newer request")
				io.WriteString(w, eventTerminator(tail))
				writeDone(w)
			}
			return
		}
	}
}

// eventTerminator returns what must follow tail so the next write starts
// a fresh SSE event.
func eventTerminator(tail []byte) string {
	switch {
	case len(tail) == 0, bytes.HasSuffix(tail, []byte("\n\n")):
		return ""
	case bytes.HasSuffix(tail, []byte("\n")):
		return "\n"
	default:
		return "\n\n"
	}
}

func interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrInterrupted)
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeDone(w http.ResponseWriter) {
	io.WriteString(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func copyHeader(dst, src http.Header, keys ...string) {
	for _, k := range keys {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}
