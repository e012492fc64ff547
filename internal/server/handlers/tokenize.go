package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ThatCatDev/tanrenai/gemma/pkg/api"
)

// TokenizeHandler serves the /extras tokenizer routes by translating them
// to llama-server's /tokenize and /detokenize.
type TokenizeHandler struct {
	BaseURL func() string
	Acquire AcquireFunc
	Client  *http.Client
}

// Tokenize handles POST /extras/tokenize.
func (h *TokenizeHandler) Tokenize(w http.ResponseWriter, r *http.Request) {
	tokens, ok := h.tokenize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.TokenizeResponse{Tokens: tokens})
}

// Count handles POST /extras/tokenize/count.
func (h *TokenizeHandler) Count(w http.ResponseWriter, r *http.Request) {
	tokens, ok := h.tokenize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.TokenizeCountResponse{Count: len(tokens)})
}

// Detokenize handles POST /extras/detokenize.
func (h *TokenizeHandler) Detokenize(w http.ResponseWriter, r *http.Request) {
	var req api.DetokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := h.call(r.Context(), "/detokenize", map[string]any{"tokens": req.Tokens}, &out); err != nil {
		writeError(w, http.StatusBadGateway, "backend_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.DetokenizeResponse{Text: out.Content})
}

func (h *TokenizeHandler) tokenize(w http.ResponseWriter, r *http.Request) ([]int, bool) {
	var req api.TokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return nil, false
	}

	var out api.TokenizeResponse
	body := map[string]any{"content": req.Input, "add_special": true}
	if err := h.call(r.Context(), "/tokenize", body, &out); err != nil {
		writeError(w, http.StatusBadGateway, "backend_error", err.Error())
		return nil, false
	}
	if out.Tokens == nil {
		out.Tokens = []int{}
	}
	return out.Tokens, true
}

func (h *TokenizeHandler) call(ctx context.Context, path string, in, out any) error {
	ctx, release, err := h.Acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llama-server returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
