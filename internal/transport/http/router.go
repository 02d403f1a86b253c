package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-planning-poker/internal/application/fragment"
	"github.com/go-planning-poker/internal/application/jiraimport"
	"github.com/go-planning-poker/internal/application/orgaccess"
	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/application/roomstate"
	"github.com/go-planning-poker/internal/application/session"
	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/config"
	jwtinfra "github.com/go-planning-poker/internal/infrastructure/jwt"
	"github.com/go-planning-poker/internal/infrastructure/turnstile"
	"github.com/go-planning-poker/internal/transport/http/handler"
	appmiddleware "github.com/go-planning-poker/internal/transport/http/middleware"
	"github.com/go-planning-poker/internal/transport/http/view"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Cache           cache.Store
	RoomRepo        RoomRepository
	ParticipantRepo ParticipantRepository
	StoryRepo       StoryRepository
	VoteRepo        VoteRepository
	SessionRepo     SessionRepository
	// Exports is nil when no export bucket is configured.
	Exports     ObjectStore
	Mailer      Mailer
	Google      GoogleVerifier
	Challenge   Challenge
	JWTProvider *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "HX-Request", "HX-Target", "HX-Current-URL", "HX-Trigger"},
		ExposedHeaders:   []string{"HX-Redirect"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 1 request/second, burst of 5, for login attempts; 5/10 for other posts.
	loginRL := appmiddleware.NewRateLimiter(rate.Limit(1), 5)
	postRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	stateSvc := roomstate.NewService(roomstate.ServiceDeps{
		Cache:        deps.Cache,
		Stories:      deps.StoryRepo,
		Participants: deps.ParticipantRepo,
		Votes:        deps.VoteRepo,
	})
	roomSvc := room.NewService(room.ServiceDeps{
		Cache:        deps.Cache,
		Rooms:        deps.RoomRepo,
		Participants: deps.ParticipantRepo,
		Stories:      deps.StoryRepo,
		Votes:        deps.VoteRepo,
		State:        stateSvc,
		Exports:      deps.Exports,
		IsStaff:      cfg.IsStaff,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		SessionRepo: deps.SessionRepo,
		JWTProvider: deps.JWTProvider,
	})
	accessSvc := orgaccess.NewService(orgaccess.ServiceDeps{
		Cache:         deps.Cache,
		Mailer:        deps.Mailer,
		Google:        deps.Google,
		AllowedDomain: cfg.OrgAllowedEmailDomain,
		TokenTTL:      cfg.OrgAccessTokenTTL,
		DevMode:       cfg.IsDevelopment(),
	})
	importSvc := jiraimport.NewService(jiraimport.ServiceDeps{
		Rooms:    deps.RoomRepo,
		Stories:  deps.StoryRepo,
		Versions: stateSvc,
		Timeout:  cfg.JiraTimeout,
	})

	if deps.Challenge == nil {
		deps.Challenge = turnstile.NewVerifier(false, "", "")
	}
	renderer := view.MustNew()
	googleClientID := ""
	if deps.Google != nil {
		googleClientID = cfg.GoogleClientID
	}

	healthH := handler.NewHealthHandler(deps.Cache)
	authH := handler.NewAuthHandler(accessSvc, sessionSvc, deps.Challenge, renderer, googleClientID)
	roomH := handler.NewRoomHandler(roomSvc, fragment.New(deps.Cache), renderer, deps.Exports != nil)
	storyH := handler.NewStoryHandler(roomSvc, renderer)
	jiraH := handler.NewJiraHandler(roomSvc, importSvc, renderer)

	// ── Public routes (no session) ───────────────────────────────────────
	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(appmiddleware.Session(sessionSvc, !cfg.IsDevelopment()))

		// ── Login gate ───────────────────────────────────────────────────
		r.Get("/auth/login", authH.LoginForm)
		r.With(loginRL.Limit).Post("/auth/login", authH.Login)
		r.Post("/auth/logout", authH.Logout)
		r.With(loginRL.Limit).Post("/auth/google", authH.Google)

		// ── Organisation members ─────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.RequireOrgAccess)
			r.Use(postRL.Limit)

			r.Get("/", roomH.List)
			r.Get("/room/new", roomH.NewForm)
			r.Post("/room/new", roomH.Create)

			r.Route("/room/{code}", func(r chi.Router) {
				r.Get("/", roomH.Detail)
				r.Get("/join", roomH.JoinForm)
				r.Post("/join", roomH.Join)
				r.Post("/leave", roomH.Leave)
				r.Post("/rename", roomH.Rename)
				r.Post("/delete", roomH.Delete)
				r.Post("/export", roomH.Export)
				r.Post("/story/new", storyH.Create)
				r.Get("/poll/stories", roomH.PollStories)
				r.Get("/poll/sidebar", roomH.PollSidebar)

				// Facilitator only
				r.Get("/jira/settings", jiraH.SettingsForm)
				r.Post("/jira/settings", jiraH.SaveSettings)
				r.Post("/jira/import-next-sprint", jiraH.Import)

				r.Route("/story/{id}", func(r chi.Router) {
					r.Post("/vote", storyH.Vote)
					r.Post("/reveal", storyH.Reveal)
					r.Post("/revote", storyH.Revote)
					r.Post("/consensus", storyH.Consensus)
					r.Post("/delete", storyH.Delete)
				})
			})
		})
	})

	return r
}
