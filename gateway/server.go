package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tenderd/gateway/middleware"
	"tenderd/native/auction"
	"tenderd/services/mirror"
	"tenderd/services/qualifier"
)

// Config carries the gateway's HTTP surface settings. The gateway serves
// read-only dashboard views from the mirror store plus a metadata write
// endpoint behind JWT auth.
type Config struct {
	Address   string
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimitConfig
}

type Server struct {
	cfg       Config
	store     *mirror.Store
	qualifier *qualifier.Client
	router    chi.Router
	nowFn     func() time.Time
}

// NewServer builds the gateway router. The qualifier client may be nil when
// no submission analysis backend is configured.
func NewServer(cfg Config, store *mirror.Store, qual *qualifier.Client, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	srv := &Server{cfg: cfg, store: store, qualifier: qual, nowFn: time.Now}

	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	obs := middleware.NewObservability("tenderd-gateway")

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", obs.MetricsHandler())

	r.Route("/contracts", func(r chi.Router) {
		r.With(obs.Middleware("contracts.list")).
			Get("/", srv.handleListContracts)
		r.With(obs.Middleware("contracts.get")).
			Get("/{address}", srv.handleGetContract)
		r.With(obs.Middleware("contracts.events")).
			Get("/{address}/events", srv.handleListEvents)
		r.With(obs.Middleware("contracts.metadata"), auth.Middleware("portal.write")).
			Put("/{address}/metadata", srv.handleSetMetadata)
		r.With(obs.Middleware("contracts.analyze"), auth.Middleware("portal.write")).
			Post("/{address}/analyze", srv.handleAnalyze)
	})

	srv.router = r
	return srv
}

// SetNowFunc overrides the clock used for phase countdown fields in responses.
func (s *Server) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpSrv.ListenAndServe()
}

type contractSummary struct {
	Address         string `json:"address"`
	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	DisplayBudget   string `json:"displayBudget,omitempty"`
	TotalBudget     string `json:"totalBudget"`
	MinimumBid      string `json:"minimumBid"`
	SafetyDeposit   string `json:"safetyDeposit"`
	UnlockTime      int64  `json:"unlockTime"`
	GracePeriod     int64  `json:"gracePeriod"`
	GracePeriodEnd  int64  `json:"gracePeriodEnd"`
	CommittedCount  uint64 `json:"committedCount"`
	RevealedCount   uint64 `json:"revealedCount"`
	Accepted        bool   `json:"accepted"`
	AcceptedOfferor string `json:"acceptedOfferor,omitempty"`
	AcceptedAmount  string `json:"acceptedAmount,omitempty"`
	Locked          bool   `json:"locked"`
	Started         bool   `json:"started"`
	StartTime       int64  `json:"startTime,omitempty"`
	StateApproved   bool   `json:"stateApproved"`
}

type contractDetail struct {
	contractSummary
	Phase           string `json:"phase"`
	CurrentTime     int64  `json:"currentTime"`
	UnlockRemaining int64  `json:"unlockRemaining"`
	GraceRemaining  int64  `json:"graceRemaining"`
}

func summarize(rec *mirror.ContractRecord) contractSummary {
	return contractSummary{
		Address:         rec.Address,
		Name:            rec.Name,
		Description:     rec.Description,
		DisplayBudget:   rec.DisplayBudget,
		TotalBudget:     rec.TotalBudget,
		MinimumBid:      rec.MinimumBid,
		SafetyDeposit:   rec.SafetyDeposit,
		UnlockTime:      rec.UnlockTime,
		GracePeriod:     rec.GracePeriod,
		GracePeriodEnd:  rec.GracePeriodEnd,
		CommittedCount:  rec.CommittedCount,
		RevealedCount:   rec.RevealedCount,
		Accepted:        rec.Accepted,
		AcceptedOfferor: rec.AcceptedOfferor,
		AcceptedAmount:  rec.AcceptedAmount,
		Locked:          rec.Locked,
		Started:         rec.Started,
		StartTime:       rec.StartTime,
		StateApproved:   rec.StateApproved,
	}
}

func (s *Server) handleListContracts(w http.ResponseWriter, _ *http.Request) {
	recs, err := s.store.ListContracts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mirror unavailable"})
		return
	}
	out := make([]contractSummary, 0, len(recs))
	for i := range recs {
		out = append(out, summarize(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contracts": out})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetContract(chi.URLParam(r, "address"))
	if errors.Is(err, mirror.ErrContractNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mirror unavailable"})
		return
	}
	now := s.nowFn().Unix()
	detail := contractDetail{
		contractSummary: summarize(rec),
		Phase:           auction.CurrentPhase(now, rec.UnlockTime, rec.GracePeriodEnd).String(),
		CurrentTime:     now,
		UnlockRemaining: remaining(rec.UnlockTime, now),
		GraceRemaining:  remaining(rec.GracePeriodEnd, now),
	}
	writeJSON(w, http.StatusOK, detail)
}

func remaining(deadline, now int64) int64 {
	if deadline <= now {
		return 0
	}
	return deadline - now
}

type eventView struct {
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
	RecordedAt time.Time       `json:"recordedAt"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.store.ListEvents(chi.URLParam(r, "address"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mirror unavailable"})
		return
	}
	out := make([]eventView, 0, len(recs))
	for _, rec := range recs {
		attrs := json.RawMessage(rec.Attributes)
		if !json.Valid(attrs) {
			attrs = json.RawMessage("{}")
		}
		out = append(out, eventView{Type: rec.Type, Attributes: attrs, RecordedAt: rec.RecordedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

type metadataRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	DisplayBudget string `json:"displayBudget"`
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	rec, err := s.store.SetMetadata(chi.URLParam(r, "address"), req.Name, req.Description, req.DisplayBudget)
	if errors.Is(err, mirror.ErrContractNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mirror unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, summarize(rec))
}

type analyzeRequest struct {
	Requirements string                 `json:"requirements"`
	Submissions  []qualifier.Submission `json:"submissions"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.qualifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "qualifier not configured"})
		return
	}
	if _, err := s.store.GetContract(chi.URLParam(r, "address")); errors.Is(err, mirror.ErrContractNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not found"})
		return
	} else if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mirror unavailable"})
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Submissions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "submissions required"})
		return
	}
	result, err := s.qualifier.Analyze(r.Context(), req.Requirements, req.Submissions)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "qualifier analysis failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
