package routes

import (
	"github.com/Dosada05/format-engine/handlers"
	"github.com/Dosada05/format-engine/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	stageHandler *handlers.StageHandler,
	resultHandler *handlers.ResultHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)

	// Публичные маршруты для просмотра сетки и таблиц
	router.Route("/stages", func(r chi.Router) {
		r.Get("/{stageID}/bracket", stageHandler.GetBracketHandler)
		r.Get("/{stageID}/standings", stageHandler.GetStandingsHandler)
		r.Get("/{stageID}/standings/groups", stageHandler.GetGroupStandingsHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.Authorize(middleware.RoleOrganizer, middleware.RoleAdmin))
			r.Post("/", stageHandler.CreateHandler)
		})
	})

	router.Get("/tournaments/{tournamentID}/stages", stageHandler.ListByTournamentHandler)

	router.Route("/matches", func(r chi.Router) {
		r.Get("/{matchID}/history", resultHandler.HistoryHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/{matchID}/results", resultHandler.SubmitHandler)
			r.Post("/{matchID}/confirm", resultHandler.ConfirmHandler)
			r.Post("/{matchID}/dispute", resultHandler.DisputeHandler)
			r.Post("/{matchID}/proofs", resultHandler.UploadProofHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.Authorize(middleware.RoleOrganizer, middleware.RoleAdmin))
			r.Post("/{matchID}/resolve", resultHandler.ResolveHandler)
			r.Post("/{matchID}/override", resultHandler.OverrideHandler)
		})
	})

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
