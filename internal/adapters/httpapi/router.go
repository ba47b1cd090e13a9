package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the API HTTP router. authMW resolves the caller
// (session, droid or dev header) and stores it in the request context;
// handlers decide whether a principal is required.
func NewRouter(s *Server, authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMW)

		r.Post("/sessions", s.login)
		r.Get("/sessions", s.listSessions)
		r.Delete("/sessions/current", s.logout)
		r.Delete("/sessions", s.logoutAll)

		r.Get("/me", s.getMe)
		r.Put("/me/password", s.changePassword)

		r.Route("/personas", func(r chi.Router) {
			r.Get("/", s.searchPersonas)
			r.Post("/", s.createPersona)
			r.Post("/resolve", s.resolvePersonas)
			r.Get("/{personaId}", s.getPersona)
			r.Patch("/{personaId}", s.updatePersona)
			r.Put("/{personaId}/realms", s.setRealms)
			r.Post("/{personaId}/archive", s.archivePersona)
		})

		r.Route("/genesis", func(r chi.Router) {
			r.Post("/", s.requestAccount)
			r.Post("/confirm", s.confirmAccount)
			r.Get("/", s.listGenesisCases)
			r.Get("/{caseId}", s.getGenesisCase)
			r.Post("/{caseId}/approve", s.approveGenesisCase)
			r.Post("/{caseId}/reject", s.rejectGenesisCase)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.listEvents)
			r.Post("/", s.createEvent)
			r.Route("/{eventId}", func(r chi.Router) {
				r.Get("/", s.getEvent)
				r.Patch("/", s.updateEvent)
				r.Delete("/", s.deleteEvent)
				r.Post("/parts", s.addPart)
				r.Put("/parts/{partId}/waitlist-field", s.setWaitlistField)
				r.Post("/parts/{partId}/tracks", s.addTrack)
				r.Get("/parts/{partId}/waitlist", s.waitlist)
				r.Put("/questionnaire", s.importQuestionnaire)

				r.Get("/courses", s.listCourses)
				r.Post("/courses", s.createCourse)
				r.Get("/lodgements", s.listLodgements)
				r.Post("/lodgements", s.createLodgement)

				r.Get("/registrations", s.listRegistrations)
				r.Post("/registrations", s.idempotent(s.register))
				r.Get("/registrations/me", s.getMyRegistration)

				r.Get("/orga-tokens", s.listOrgaTokens)
				r.Post("/orga-tokens", s.createOrgaToken)

				r.Get("/export", s.partialExport)
				r.Post("/import", s.partialImport)
				r.Get("/history", s.eventHistory)
			})
		})

		r.Route("/registrations/{registrationId}", func(r chi.Router) {
			r.Get("/", s.getRegistration)
			r.Patch("/", s.updateRegistration)
			r.Put("/tracks/{trackId}/course", s.assignCourse)
			r.Put("/parts/{partId}/lodgement", s.assignLodgement)
		})

		r.Route("/orga-tokens/{tokenId}", func(r chi.Router) {
			r.Post("/revoke", s.revokeOrgaToken)
			r.Delete("/", s.deleteOrgaToken)
		})

		r.Route("/mailinglists", func(r chi.Router) {
			r.Get("/", s.listMailinglists)
			r.Post("/", s.createMailinglist)
			r.Route("/{mailinglistId}", func(r chi.Router) {
				r.Get("/", s.getMailinglist)
				r.Patch("/", s.updateMailinglist)
				r.Get("/me", s.myMailinglistStatus)
				r.Post("/subscription", s.subscribe)
				r.Delete("/subscription", s.unsubscribe)
				r.Get("/subscribers", s.listSubscribers)
				r.Put("/subscribers/{personaId}", s.addSubscriber)
				r.Delete("/subscribers/{personaId}", s.removeSubscriber)
				r.Post("/requests/{personaId}", s.decideSubscriptionRequest)
				r.Post("/sync", s.syncImplicits)
				r.Get("/addresses", s.listAddresses)
			})
		})

		r.Route("/assemblies", func(r chi.Router) {
			r.Get("/", s.listAssemblies)
			r.Post("/", s.createAssembly)
			r.Route("/{assemblyId}", func(r chi.Router) {
				r.Get("/", s.getAssembly)
				r.Post("/signup", s.signupAssembly)
				r.Get("/attendees", s.listAttendees)
				r.Post("/conclude", s.concludeAssembly)
				r.Get("/ballots", s.listBallots)
				r.Post("/ballots", s.createBallot)
			})
		})

		r.Route("/ballots/{ballotId}", func(r chi.Router) {
			r.Get("/", s.getBallot)
			r.Put("/", s.updateBallot)
			r.Delete("/", s.deleteBallot)
			r.Post("/vote", s.idempotent(s.castVote))
			r.Get("/vote", s.myVote)
			r.Post("/tally", s.tallyBallot)
			r.Get("/result", s.ballotResult)
		})

		r.Post("/results/verify", s.verifyResult)
	})

	return r
}
