package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// NewHandler builds the HTTP surface: GET /metrics returning the
// current snapshot as JSON, readable cross-origin so local dashboards
// can poll it.
func NewHandler(agg *Aggregator) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(agg.Snapshot()); err != nil {
			http.Error(w, "encode snapshot", http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

// Serve runs the metrics server until the context is canceled, then
// shuts it down gracefully.
func Serve(ctx context.Context, addr string, agg *Aggregator, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(agg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
