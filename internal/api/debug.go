package api

import (
	"encoding/json"
	"net/http"
	"time"

	"carerounds/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               s.Cfg.Port,
			"authMode":           s.Cfg.Auth.Mode,
			"geoSpeedKph":        s.Cfg.Geo.SpeedKph,
			"geoRateRps":         s.Cfg.Geo.RateRPS,
			"webhookMaxAttempts": s.Cfg.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     s.Cfg.DatabaseURL != "",
			"hasRedisUrl":        s.Cfg.RedisURL != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
