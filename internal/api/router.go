package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/scheduled-emails", h.CreateTask)
	mux.HandleFunc("GET /v1/scheduled-emails", h.ListTasks)
	mux.HandleFunc("GET /v1/scheduled-emails/{id}", h.GetTask)
	mux.HandleFunc("PUT /v1/scheduled-emails/{id}", h.UpdateTask)
	mux.HandleFunc("PATCH /v1/scheduled-emails/{id}", h.UpdateTask)
	mux.HandleFunc("DELETE /v1/scheduled-emails/{id}", h.DeleteTask)

	mux.HandleFunc("POST /v1/admin/trigger", h.Trigger)

	mux.HandleFunc("GET /v1/cron/status", h.CronStatus)
	mux.HandleFunc("GET /v1/cron/health", h.CronHealth)
	mux.HandleFunc("POST /v1/cron/sweep", h.Sweep)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mailsched"))
	})

	return mux
}
