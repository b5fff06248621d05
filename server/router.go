package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"song-arena/server/rating"
	"song-arena/server/store"
)

func Router(ar *arena) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			if err := ar.db.Ping(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		})

		r.Get("/rankings", ar.handleRankings)
		r.Get("/songs/{id}", ar.handleGetSong)
		r.Post("/songs", ar.handleCreateSong)
		r.Post("/songs/import", ar.handleImportSongs)

		r.Get("/duel/next", ar.handleDuelNext)
		r.Post("/duel/outcome", ar.handleDuelOutcome)
		r.Post("/duel/undo", ar.handleDuelUndo)

		r.Get("/comparisons", ar.handleComparisons)
		r.Get("/stats", ar.handleStats)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/duplicates", ar.handleDuplicates)
			r.Post("/merge", ar.handleMerge)
			r.Get("/actions", ar.handleActions)
		})
	})

	return r
}

func filterFromQuery(req *http.Request) store.SongFilter {
	q := req.URL.Query()
	minGames, _ := strconv.Atoi(q.Get("min_games"))
	return store.SongFilter{
		Query:         q.Get("q"),
		Language:      q.Get("language"),
		Category:      q.Get("category"),
		OriginalsOnly: q.Get("originals_only") == "true",
		MinGames:      minGames,
	}
}

// rankedSong is a song decorated with the engine's confidence helpers for
// display.
type rankedSong struct {
	store.Song
	Rank          int     `json:"rank"`
	Confidence    string  `json:"confidence"`
	IntervalLower float64 `json:"interval_lower"`
	IntervalUpper float64 `json:"interval_upper"`
}

func (ar *arena) decorate(s store.Song, rank int) rankedSong {
	lo, hi := ar.calc.ConfidenceInterval(s.Rating, s.Deviation, 0.95)
	return rankedSong{
		Song:          s,
		Rank:          rank,
		Confidence:    ar.calc.GetConfidence(s.Deviation).String(),
		IntervalLower: lo,
		IntervalUpper: hi,
	}
}

func (ar *arena) handleRankings(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	songs, err := ar.db.Rankings(req.Context(), filterFromQuery(req), q.Get("sort"), q.Get("order") == "asc")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]rankedSong, 0, len(songs))
	for i, s := range songs {
		out = append(out, ar.decorate(s, i+1))
	}
	writeJSON(w, map[string]any{"rows": out})
}

func (ar *arena) handleGetSong(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := ar.db.GetSong(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, ar.decorate(*s, 0))
}

func (ar *arena) handleCreateSong(w http.ResponseWriter, req *http.Request) {
	var s store.Song
	if err := json.NewDecoder(req.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.CanonicalName == "" {
		writeError(w, http.StatusBadRequest, errors.New("canonical_name is required"))
		return
	}
	id, err := ar.db.UpsertSong(req.Context(), &s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"id": id})
}

func (ar *arena) handleImportSongs(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Songs []store.Song `json:"songs"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := ar.db.BulkInsertSongs(req.Context(), body.Songs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"imported": n})
}

func (ar *arena) handleDuelNext(w http.ResponseWriter, req *http.Request) {
	pair, err := ar.nextPair(req.Context(), filterFromQuery(req))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, pair)
}

func (ar *arena) handleDuelOutcome(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SongAID     int64    `json:"song_a_id"`
		SongBID     int64    `json:"song_b_id"`
		Outcome     *float64 `json:"outcome,omitempty"`
		OutcomeType string   `json:"outcome_type,omitempty"`
		Mode        string   `json:"mode,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The outcome may arrive as a label, a raw score in [0,1], or both.
	outcome := -1.0
	if body.Outcome != nil {
		outcome = *body.Outcome
	} else if v, ok := outcomeValues[body.OutcomeType]; ok {
		outcome = v
	}
	if outcome < 0 || outcome > 1 {
		writeError(w, http.StatusBadRequest, errors.New("outcome must be in [0,1] or outcome_type must be a known label"))
		return
	}
	mode := body.Mode
	if mode == "" {
		mode = "duel"
	}

	c, err := ar.recordOutcome(req.Context(), body.SongAID, body.SongBID, outcome, body.OutcomeType, mode)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, c)
}

func (ar *arena) handleDuelUndo(w http.ResponseWriter, req *http.Request) {
	c, err := ar.undoLast(req.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"undone": c.ID})
}

func (ar *arena) handleComparisons(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	rows, err := ar.db.RecentComparisons(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"rows": rows})
}

func (ar *arena) handleStats(w http.ResponseWriter, req *http.Request) {
	st, err := ar.db.Statistics(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, st)
}

func (ar *arena) handleDuplicates(w http.ResponseWriter, req *http.Request) {
	dups, err := ar.db.FindDuplicates(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"rows": dups})
}

func (ar *arena) handleMerge(w http.ResponseWriter, req *http.Request) {
	var body struct {
		KeepID  int64  `json:"keep_id"`
		MergeID int64  `json:"merge_id"`
		Reason  string `json:"reason,omitempty"`
		Preview bool   `json:"preview,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Preview {
		pv, err := ar.db.PreviewMerge(req.Context(), body.KeepID, body.MergeID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, pv)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "duplicate"
	}
	if err := ar.db.MergeSongs(req.Context(), body.KeepID, body.MergeID, reason); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"merged": body.MergeID, "into": body.KeepID})
}

func (ar *arena) handleActions(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	rows, err := ar.db.RecentActions(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]any{"rows": rows})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, rating.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
