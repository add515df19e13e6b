package api

import (
	"net/http"
)

// handleListHooks returns the configured webhooks. Secrets and header
// values are never included.
func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	type hookInfo struct {
		Name    string   `json:"name"`
		Type    string   `json:"type"`
		Events  []string `json:"events"`
		URL     string   `json:"url"`
		Method  string   `json:"method"`
		Retries int      `json:"retries"`
		Signed  bool     `json:"signed"`
	}

	hooks := make([]hookInfo, 0, len(s.cfg.Hooks.Webhooks))
	for _, wh := range s.cfg.Hooks.Webhooks {
		hooks = append(hooks, hookInfo{
			Name:    wh.Name,
			Type:    "webhook",
			Events:  wh.Events,
			URL:     wh.URL,
			Method:  wh.Method,
			Retries: wh.Retries,
			Signed:  wh.Secret != "",
		})
	}

	JSONResponse(w, http.StatusOK, hooks)
}
