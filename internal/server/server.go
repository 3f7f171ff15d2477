// Package server exposes the pack lab over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xtding233/gratonite-lab/internal/catalog"
	"github.com/xtding233/gratonite-lab/internal/gacha"
	"github.com/xtding233/gratonite-lab/internal/lab"
)

const (
	defaultTrials    = 1000
	defaultMaxTrials = 20000
	maxSimOpens      = 10000
)

type errorResp struct {
	Err string `json:"err"`
}

type catalogResp struct {
	Size     int                  `json:"size"`
	Rarities []catalog.RarityMeta `json:"rarities"`
	Entries  []catalog.Entry      `json:"entries"`
}

type simulateResp struct {
	Goal              gacha.TrialGoal            `json:"goal"`
	Rarity            catalog.Rarity             `json:"rarity,omitempty"`
	NumOpens          int                        `json:"numOpens,omitempty"`
	Trials            int                        `json:"trials"`
	Seed              uint64                     `json:"seed"`
	Stats             gacha.Stats                `json:"stats"`
	TierProbabilities map[catalog.Rarity]float64 `json:"tierProbabilities"`
}

// Options configures a Server. Engine is required.
type Options struct {
	Engine     *lab.Engine
	Logger     *zap.Logger
	AllowGrant bool
	MaxTrials  int
}

// Server holds the HTTP handlers of one engine.
type Server struct {
	engine     *lab.Engine
	log        *zap.Logger
	allowGrant bool
	maxTrials  int
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxTrials <= 0 {
		opts.MaxTrials = defaultMaxTrials
	}
	return &Server{
		engine:     opts.Engine,
		log:        opts.Logger,
		allowGrant: opts.AllowGrant,
		maxTrials:  opts.MaxTrials,
	}
}

// Handler returns the routed, traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /lab", s.handleSnapshot)
	mux.HandleFunc("POST /lab/open", s.handleOpen)
	mux.HandleFunc("POST /lab/reset", s.handleReset)
	mux.HandleFunc("POST /lab/grant", s.handleGrant)
	mux.HandleFunc("GET /lab/simulate", s.handleSimulate)
	mux.HandleFunc("GET /lab/catalog", s.handleCatalog)
	return otelhttp.NewHandler(mux, "gratonite-lab")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResp{Err: msg})
}

func parseInt(r *http.Request, key string) (int, bool, string) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false, ""
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, "invalid " + key
	}
	return v, true, ""
}

func parseUint(r *http.Request, key string) (uint64, bool, string) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false, ""
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, "invalid " + key
	}
	return v, true, ""
}

// engineStatus maps engine errors onto HTTP statuses.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, lab.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, lab.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.OpenOne(r.Context())
	if err != nil {
		status := engineStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("open failed", zap.Error(err))
		}
		writeErr(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetProgress(r.Context()); err != nil {
		writeErr(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if !s.allowGrant {
		writeErr(w, http.StatusForbidden, "granting coins is disabled")
		return
	}
	amount, ok, msg := parseInt(r, "amount")
	if msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	if !ok || amount < 0 {
		writeErr(w, http.StatusBadRequest, "missing/invalid param amount")
		return
	}
	if err := s.engine.GrantCoins(r.Context(), amount); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := gacha.SimParams{
		Goal:   gacha.TrialGoal(q.Get("goal")),
		Rarity: catalog.Rarity(q.Get("rarity")),
		Trials: defaultTrials,
		Seed:   1,
	}
	if p.Goal == "" {
		p.Goal = gacha.GoalFullSet
	}
	trials, ok, msg := parseInt(r, "trials")
	if msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	if ok {
		if trials <= 0 || trials > s.maxTrials {
			writeErr(w, http.StatusBadRequest, "trials must be in 1.."+strconv.Itoa(s.maxTrials))
			return
		}
		p.Trials = trials
	}
	if seed, ok, msg := parseUint(r, "seed"); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	} else if ok {
		p.Seed = seed
	}
	if n, ok, msg := parseInt(r, "num_opens"); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	} else if ok {
		if n < 0 || n > maxSimOpens {
			writeErr(w, http.StatusBadRequest, "num_opens must be in 0.."+strconv.Itoa(maxSimOpens))
			return
		}
		p.NumOpens = n
	}

	roller := s.engine.Roller()
	stats, err := gacha.RunMonteCarlo(roller, p)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, simulateResp{
		Goal:              p.Goal,
		Rarity:            p.Rarity,
		NumOpens:          p.NumOpens,
		Trials:            p.Trials,
		Seed:              p.Seed,
		Stats:             stats,
		TierProbabilities: roller.TierProbabilities(),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.engine.Catalog()
	writeJSON(w, http.StatusOK, catalogResp{
		Size:     cat.Size(),
		Rarities: cat.Table().Tiers(),
		Entries:  cat.Entries(),
	})
}
