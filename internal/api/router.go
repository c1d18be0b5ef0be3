package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/metrics"
	"github.com/samhotchkiss/openclaw-hub/internal/middleware"
	"github.com/samhotchkiss/openclaw-hub/internal/ws"
	"go.uber.org/zap"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string   `json:"status"`
	Uptime    string   `json:"uptime"`
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	Plugins   []string `json:"plugins"`
}

// RouterOptions carries the router's dependencies. Hub and Metrics are
// optional.
type RouterOptions struct {
	Platform          *integration.Platform
	Hub               *ws.Hub
	Metrics           *metrics.Recorder
	AllowedOrigins    []string
	OnboardConfigPath string
	Logger            *zap.Logger
}

func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := opts.Platform

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(opts.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.SessionHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Version:   getVersion(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Plugins:   p.Plugins(),
		})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.Hub != nil {
		r.Handle("/ws", &ws.Handler{
			Hub:            opts.Hub,
			AllowedOrigins: opts.AllowedOrigins,
			Logger:         logger.Named("ws"),
		})
	}

	for _, route := range p.PluginRoutes() {
		r.Handle("/plugins/"+route.PluginID+route.Path, route.Handler)
	}

	auth := &AuthHandler{Admin: p.Admin}
	orgs := &OrgHandler{Orgs: p.Orgs}
	approvals := &ApprovalHandler{Approvals: p.Approvals}
	chans := &ChannelHandler{Platform: p}
	workspaces := &WorkspaceHandler{Platform: p}
	rpc := &RPCHandler{Platform: p}
	onboarding := &OnboardingHandler{ConfigPath: opts.OnboardConfigPath}

	r.Route("/api", func(r chi.Router) {
		r.Post("/admin/login", auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(p.Admin))

			r.Post("/admin/logout", auth.Logout)
			r.Get("/admin/me", auth.Me)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermManageAdmins))
				r.Get("/admin/admins", auth.ListAdmins)
				r.Post("/admin/admins", auth.CreateAdmin)
				r.Post("/admin/admins/{id}/deactivate", auth.DeactivateAdmin)
				r.Post("/admin/admins/{id}/permissions", auth.GrantPermission)
				r.Delete("/admin/admins/{id}/permissions/{permission}", auth.RevokePermission)
			})

			r.Get("/orgs", orgs.ListOrganizations)
			r.Get("/orgs/tree", orgs.Tree)
			r.Get("/orgs/{id}", orgs.GetOrganization)
			r.Get("/orgs/{id}/tree", orgs.Tree)
			r.Get("/orgs/{id}/ancestors", orgs.Ancestors)
			r.Get("/orgs/{id}/descendants", orgs.Descendants)
			r.Get("/orgs/{id}/path", orgs.Path)
			r.Get("/orgs/{id}/stats", orgs.Stats)
			r.Get("/agents/{agentID}/orgs", orgs.AgentOrganizations)
			r.Get("/agents/{agentID}/collaborators", orgs.Collaborators)
			r.Get("/teams", orgs.ListTeams)
			r.Get("/teams/{id}", orgs.GetTeam)
			r.Get("/collaborations", orgs.ListCollaborations)
			r.Get("/collaborations/path", orgs.CollaborationPath)
			r.Get("/mentorships", orgs.ListMentorships)
			r.Get("/mentorships/{id}", orgs.GetMentorship)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermManageOrganizations))
				r.Post("/orgs", orgs.CreateOrganization)
				r.Patch("/orgs/{id}", orgs.UpdateOrganization)
				r.Delete("/orgs/{id}", orgs.DeleteOrganization)
				r.Put("/orgs/{id}/agents/{agentID}", orgs.AddAgent)
				r.Delete("/orgs/{id}/agents/{agentID}", orgs.RemoveAgent)
				r.Post("/teams", orgs.CreateTeam)
				r.Patch("/teams/{id}", orgs.UpdateTeam)
				r.Delete("/teams/{id}", orgs.DeleteTeam)
				r.Put("/teams/{id}/members/{agentID}", orgs.AddTeamMember)
				r.Delete("/teams/{id}/members/{agentID}", orgs.RemoveTeamMember)
				r.Put("/teams/{id}/leader/{agentID}", orgs.SetTeamLeader)
				r.Post("/collaborations", orgs.CreateCollaboration)
				r.Delete("/collaborations/{id}", orgs.DeleteCollaboration)
				r.Post("/mentorships", orgs.CreateMentorship)
				r.Post("/mentorships/{id}/progress", orgs.UpdateMentorshipProgress)
				r.Post("/mentorships/{id}/status", orgs.SetMentorshipStatus)
			})

			r.Get("/approvals", approvals.List)
			r.Get("/approvals/pending", approvals.Pending)
			r.Get("/approvals/{id}", approvals.Get)
			r.Post("/approvals", approvals.Create)
			r.Post("/approvals/{id}/cancel", approvals.Cancel)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermApprove))
				r.Post("/approvals/{id}/approve", approvals.Approve)
				r.Post("/approvals/{id}/reject", approvals.Reject)
				r.Delete("/approvals/{id}", approvals.Delete)
			})

			r.Get("/bindings", chans.ListBindings)
			r.Get("/bindings/{id}", chans.GetBinding)
			r.Post("/bindings/requests", chans.RequestBinding)
			r.Get("/agents/{agentID}/inbox", chans.Inbox)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermManageChannels))
				r.Post("/bindings", chans.CreateBinding)
				r.Patch("/bindings/{id}", chans.UpdateBinding)
				r.Delete("/bindings/{id}", chans.DeleteBinding)
				r.Post("/messages", chans.RouteMessage)
				r.Post("/agents/{agentID}/send", chans.SendAsAgent)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermModerate))
				r.Get("/moderation", chans.ListPending)
				r.Post("/moderation/{bindingID}/{messageID}/approve", chans.ApproveMessage)
				r.Post("/moderation/{bindingID}/{messageID}/reject", chans.RejectMessage)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermManageWorkspaces))
				r.Post("/workspaces/agents/{agentID}", workspaces.EnsureAgent)
				r.Get("/workspaces/agents/{agentID}/context", workspaces.AgentContext)
				r.Get("/workspaces/groups", workspaces.ListGroups)
				r.Post("/workspaces/groups", workspaces.CreateGroup)
				r.Get("/workspaces/groups/{groupID}", workspaces.GetGroup)
				r.Delete("/workspaces/groups/{groupID}", workspaces.DeleteGroup)
				r.Post("/workspaces/groups/{groupID}/members", workspaces.AddGroupMember)
				r.Delete("/workspaces/groups/{groupID}/members/{memberID}", workspaces.RemoveGroupMember)
				r.Put("/workspaces/groups/{groupID}/docs", workspaces.WriteGroupDoc)
				r.Post("/workspaces/groups/{groupID}/sediment", workspaces.Sediment)
				r.Get("/workspaces/access", workspaces.ListPolicies)
				r.Get("/workspaces/access/{agentID}", workspaces.GetPolicy)
				r.Put("/workspaces/access/{agentID}", workspaces.SetPolicy)
				r.Delete("/workspaces/access/{agentID}", workspaces.RemovePolicy)
				r.Get("/workspaces/access/{agentID}/check", workspaces.CheckAccess)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(admin.PermManageAgents))
				r.Get("/rpc", rpc.Methods)
				r.Post("/rpc/{method}", rpc.Call)
				r.Get("/cli", rpc.Usage)
				r.Post("/cli/{command}", rpc.Exec)
				r.Get("/onboard/presets", onboarding.Presets)
				r.Get("/onboard/config", onboarding.Config)
				r.Post("/onboard/provider", onboarding.ApplyProvider)
				r.Post("/onboard/default-model", onboarding.SetDefaultModel)
				r.Post("/onboard/auth-profiles", onboarding.SetAuthProfile)
			})
		})
	})

	return r
}

func corsOrigins(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
