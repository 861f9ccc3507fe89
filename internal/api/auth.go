// Package api implements the HTTP surface of the visit scheduling service.
package api

import (
	"net/http"
	"strings"

	"carerounds/internal/auth"
)

// getPrincipal extracts tenant, role and staff identity from a bearer token,
// falling back to headers for local development.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	staffID := r.Header.Get("X-Staff-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = "admin"
	}
	return auth.Principal{Tenant: tenant, Role: role, StaffID: staffID}
}
