package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/asset-guard/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	svc := s.services

	configHandler := handlers.NewConfigHandler(s.config)
	hashHandler := handlers.NewHashHandler(s.config.Hash.Size, s.config.Hash.CenterCropRatio, svc.Whitelist)
	duplicatesHandler := handlers.NewDuplicatesHandler(svc.Scanner, svc.Collection, s.logger)
	identityHandler := handlers.NewIdentityHandler(svc.Verifier, svc.Liveness, s.logger)
	riskHandler := handlers.NewRiskHandler(svc.Classifier, s.logger)
	precheckHandler := handlers.NewPrecheckHandler(svc.Gate, svc.Decisions, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)

		// Fingerprints
		r.Post("/hash", hashHandler.Hash)
		r.Post("/whitelist/check", hashHandler.CheckWhitelist)

		// Duplicates
		r.Post("/duplicates/check", duplicatesHandler.Check)

		// Identity
		r.Post("/identity/verify", identityHandler.Verify)
		r.Post("/identity/liveness", identityHandler.Liveness)

		// Risk
		r.Post("/risk", riskHandler.Classify)

		// Precheck
		r.Post("/precheck", precheckHandler.Evaluate)
		r.Get("/precheck/{id}", precheckHandler.Get)
	})
}
