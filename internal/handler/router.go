package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type RouterDeps struct {
	Campaigns *service.CampaignService
	Directory *service.DirectoryService
	Log       zerolog.Logger
	// Ready reports dependency health for /healthz. Nil means always healthy.
	Ready func(ctx context.Context) error
}

func NewRouter(d RouterDeps) http.Handler {
	campaignController := &controller.CampaignController{CampaignService: d.Campaigns, Log: d.Log}
	directoryController := &controller.DirectoryController{DirectoryService: d.Directory, Log: d.Log}
	campaignHandler := &CampaignHandler{Service: d.Campaigns, Log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", healthz(d.Ready))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", campaignHandler.ListCampaignsHandler)
		r.Post("/", campaignController.CreateCampaign)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", campaignHandler.GetCampaignHandler)
			r.Put("/", campaignController.UpdateCampaign)
			r.Delete("/", campaignController.DeleteCampaign)

			r.Post("/process", campaignController.ProcessCampaign)
			r.Post("/reset", campaignController.ResetCampaign)
			r.Put("/template-config", campaignController.UpdateTemplateConfig)
			r.Post("/send-batch", campaignController.SendBatch)
			r.Post("/send-test", campaignController.SendTest)
			r.Post("/personalized-preview", campaignController.PersonalizedPreview)

			r.Get("/progress", campaignHandler.ProgressHandler)
			r.Get("/batches", campaignHandler.ListBatchesHandler)
			r.Get("/batches/{n}", campaignHandler.GetBatchHandler)
			r.Get("/batches/{n}/recipients", campaignHandler.ListRecipientsHandler)
			r.Post("/batches/{n}/reset", campaignController.ResetBatch)
		})
	})

	r.Route("/test-users", func(r chi.Router) {
		r.Get("/", directoryController.ListTestUsers)
		r.Post("/", directoryController.SaveTestUser)
		r.Put("/{email}", directoryController.SetTestUserActive)
		r.Delete("/{email}", directoryController.DeleteTestUser)
	})

	r.Route("/schools", func(r chi.Router) {
		r.Get("/", directoryController.ListSchools)
		r.Post("/", directoryController.SaveSchool)
	})

	return r
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				controller.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}
