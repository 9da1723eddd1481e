package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/eligibility"
	"github.com/sells-group/coach-cli/internal/exclusion"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/monitoring"
	"github.com/sells-group/coach-cli/internal/store"
	"github.com/sells-group/coach-cli/internal/weekly"
)

var (
	servePort    int
	serveMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and prometheus metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}
		ep, err := eligibilityParams(cfg.Eligibility)
		if err != nil {
			return err
		}
		matcher, err := loadExclusions(nil)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		metrics := monitoring.NewMetrics(reg)

		if serveMonitor {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitor),
				metrics,
				cfg.Monitor,
			)
			go checker.Run(ctx)
		}

		api := &apiServer{store: st, cfg: cfg, params: ep, matcher: matcher, now: time.Now}
		handler := buildRouter(api, reg, metrics, cfg.Server.CORSOrigins)

		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", true, "run the periodic run health checker")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort returns flagPort when set, otherwise cfgPort.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// apiServer answers the dashboard's read queries from the run store.
type apiServer struct {
	store   store.Store
	cfg     *config.Config
	params  eligibility.Params
	matcher *exclusion.Matcher
	now     func() time.Time
}

// buildRouter wires the API routes, CORS and request metrics. metrics may be
// nil.
func buildRouter(api *apiServer, reg *prometheus.Registry, metrics *monitoring.Metrics, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if metrics != nil {
		r.Use(instrument(metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", api.listRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", api.getRun)
			r.Post("/select", api.selectRun)
			r.Get("/coaches", api.coaches)
			r.Get("/weekly", api.weekly)
			r.Get("/coaches/{coachID}/weekly", api.coachSeries)
		})
	})
	return r
}

// instrument records request counts and latency by route pattern.
func instrument(m *monitoring.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func (s *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{Status: model.RunStatus(q.Get("status")), Limit: limit})
	if err != nil {
		s.internalError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	exports, err := s.store.ListExports(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Run
		Exports []model.ExportRecord `json:"exports"`
	}{run, exports})
}

func (s *apiServer) selectRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	if run.Status != model.RunStatusComplete {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s is %s, not complete", run.ID, run.Status))
		return
	}
	if err := s.store.SelectRun(r.Context(), run.ID); err != nil {
		s.internalError(w, err)
		return
	}
	run.Selected = true
	writeJSON(w, http.StatusOK, run)
}

type coachesResponse struct {
	RunID     string                    `json:"run_id"`
	Params    eligibility.Params        `json:"params"`
	Threshold float64                   `json:"threshold"`
	PoolSize  int                       `json:"pool_size"`
	Counts    map[model.Eligibility]int `json:"counts"`
	Rows      []model.EligibilityResult `json:"rows"`
}

// coaches re-labels the run's coaches under the configured parameters,
// overridden by query values.
func (s *apiServer) coaches(w http.ResponseWriter, r *http.Request) {
	p, err := paramsFromQuery(s.params, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	res, err := rescore(r.Context(), s.store, run.ID, p, s.matcher)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if label := r.URL.Query().Get("eligibility"); label != "" {
		res.Rows = filterLabel(res.Rows, model.Eligibility(label))
	}
	if res.Rows == nil {
		res.Rows = []model.EligibilityResult{}
	}
	writeJSON(w, http.StatusOK, coachesResponse{
		RunID:     run.ID,
		Params:    p,
		Threshold: res.Threshold,
		PoolSize:  res.PoolSize,
		Counts:    res.Counts(),
		Rows:      res.Rows,
	})
}

type weeklyResponse struct {
	RunID   string               `json:"run_id"`
	Buckets []model.WeeklyBucket `json:"buckets"`
	Alerts  []weekly.Alert       `json:"alerts"`
}

func (s *apiServer) weekly(w http.ResponseWriter, r *http.Request) {
	s.writeWeekly(w, r, "")
}

func (s *apiServer) coachSeries(w http.ResponseWriter, r *http.Request) {
	s.writeWeekly(w, r, chi.URLParam(r, "coachID"))
}

func (s *apiServer) writeWeekly(w http.ResponseWriter, r *http.Request, coachID string) {
	weeks := 0
	if v := r.URL.Query().Get("weeks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "weeks must be a positive integer")
			return
		}
		weeks = n
	}
	run, ok := s.run(w, r)
	if !ok {
		return
	}
	buckets, err := coachWeekly(r.Context(), s.store, s.cfg, run.ID, weeks, s.matcher, s.now())
	if err != nil {
		s.internalError(w, err)
		return
	}
	alerts := weekly.DetectAlerts(buckets, alertParams(s.cfg.Monitor))
	if coachID != "" {
		buckets = weekly.Coach(buckets, coachID)
		var mine []weekly.Alert
		for _, a := range alerts {
			if a.CoachID == coachID {
				mine = append(mine, a)
			}
		}
		alerts = mine
	}
	if buckets == nil {
		buckets = []model.WeeklyBucket{}
	}
	if alerts == nil {
		alerts = []weekly.Alert{}
	}
	writeJSON(w, http.StatusOK, weeklyResponse{RunID: run.ID, Buckets: buckets, Alerts: alerts})
}

// run resolves the {runID} path value; "current" means the selected run.
// It writes the error response itself and reports whether to continue.
func (s *apiServer) run(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := chi.URLParam(r, "runID")
	if id == "current" {
		id = ""
	}
	run, err := store.ResolveRun(r.Context(), s.store, id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, err)
		return nil, false
	}
	return run, true
}

func (s *apiServer) internalError(w http.ResponseWriter, err error) {
	zap.L().Error("api: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// paramsFromQuery applies the dashboard's slider values over base.
func paramsFromQuery(base eligibility.Params, q url.Values) (eligibility.Params, error) {
	p := base
	if v := q.Get("window"); v != "" {
		win, err := model.ParseWindow(v)
		if err != nil {
			return p, err
		}
		p.Window = win
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"top_percent", &p.PoolTopPercent},
		{"nabeller_max_pct", &p.NabellerMaxPct},
		{"moderate_min_rate", &p.ModerateMinRate},
	}
	for _, f := range floats {
		if v := q.Get(f.key); v != "" {
			n, err := parseFinite(f.key, v)
			if err != nil {
				return p, err
			}
			*f.dst = n
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"min_deals", &p.PoolMinDeals},
		{"good_min_open", &p.GoodMinOpen},
		{"moderate_min_open", &p.ModerateMinOpen},
		{"moderate_max_open", &p.ModerateMaxOpen},
	}
	for _, f := range ints {
		if v := q.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return p, eris.Errorf("%s must be an integer", f.key)
			}
			*f.dst = n
		}
	}

	optional := []struct {
		key string
		dst **float64
	}{
		{"threshold", &p.ThresholdOverride},
		{"pool_max_nabeller_pct", &p.PoolMaxNabellerPct},
	}
	for _, f := range optional {
		if !q.Has(f.key) {
			continue
		}
		v := q.Get(f.key)
		if v == "" {
			*f.dst = nil
			continue
		}
		n, err := parseFinite(f.key, v)
		if err != nil {
			return p, err
		}
		*f.dst = &n
	}
	return p, p.Validate()
}

// parseFinite rejects NaN and infinities, which strconv accepts.
func parseFinite(key, v string) (float64, error) {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, eris.Errorf("%s must be a number", key)
	}
	return n, nil
}

func filterLabel(rows []model.EligibilityResult, label model.Eligibility) []model.EligibilityResult {
	var out []model.EligibilityResult
	for _, r := range rows {
		if r.Eligibility == label {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
