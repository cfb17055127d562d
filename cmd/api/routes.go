package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type middlewareFunc = func(http.Handler) http.Handler

// apiRoutes is everything mounted under /api.
type apiRoutes struct {
	Limit       middlewareFunc
	RequireAuth middlewareFunc
	Idempotent  middlewareFunc

	Health, Ping              http.HandlerFunc
	Passes, Events, Event     http.HandlerFunc
	Webhook, WebhookStatus    http.HandlerFunc
	Buy, Upgrade              http.HandlerFunc
	Orders, Dashboard         http.HandlerFunc
	GetProfile, UpdateProfile http.HandlerFunc
}

// mountAPI registers the /api tree. Gateway callbacks arrive from a handful of
// provider IPs and stay outside the per-IP limit.
func mountAPI(r chi.Router, rt apiRoutes) {
	r.Route("/api", func(v chi.Router) {
		v.Post("/webhook/razorpay", rt.Webhook)
		v.Get("/webhook/test", rt.WebhookStatus)

		v.Group(func(pub chi.Router) {
			pub.Use(rt.Limit)

			pub.Get("/health", rt.Health)
			pub.Post("/cron/ping", rt.Ping)

			pub.Get("/passes", rt.Passes)
			pub.Get("/events", rt.Events)
			pub.Get("/events/{id}", rt.Event)

			pub.Group(func(authR chi.Router) {
				authR.Use(rt.RequireAuth)
				authR.With(rt.Idempotent).Post("/passes/{id}/buy", rt.Buy)
				authR.With(rt.Idempotent).Post("/passes/{id}/upgrade", rt.Upgrade)
				authR.Get("/orders", rt.Orders)
				authR.Get("/dashboard", rt.Dashboard)
				authR.Get("/profile", rt.GetProfile)
				authR.Put("/profile", rt.UpdateProfile)
			})
		})
	})
}
