package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

// Triple is a Glicko-2 rating snapshot on the display scale.
type Triple struct {
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
}

type Song struct {
	ID             int64      `json:"id"`
	CanonicalName  string     `json:"canonical_name"`
	Artist         string     `json:"artist"`
	Language       string     `json:"language"`
	Category       string     `json:"category"`
	YouTubeVideoID *string    `json:"youtube_video_id,omitempty"`
	IsOriginal     bool       `json:"is_original"`
	OriginalSongID *int64     `json:"original_song_id,omitempty"`
	VariantType    *string    `json:"variant_type,omitempty"`
	Rating         float64    `json:"rating"`
	Deviation      float64    `json:"rating_deviation"`
	Volatility     float64    `json:"volatility"`
	GamesPlayed    int        `json:"games_played"`
	Wins           int        `json:"wins"`
	Losses         int        `json:"losses"`
	Draws          int        `json:"draws"`
	LastCompared   *time.Time `json:"last_compared,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// State returns the song's current rating triple.
func (s *Song) State() Triple {
	return Triple{Rating: s.Rating, Deviation: s.Deviation, Volatility: s.Volatility}
}

type Comparison struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	SongAID      int64     `json:"song_a_id"`
	SongBID      int64     `json:"song_b_id"`
	WinnerID     *int64    `json:"winner_id,omitempty"`
	Outcome      float64   `json:"outcome"`
	OutcomeType  string    `json:"outcome_type"`
	Mode         string    `json:"comparison_mode"`
	ABefore      Triple    `json:"a_before"`
	AAfter       Triple    `json:"a_after"`
	BBefore      Triple    `json:"b_before"`
	BAfter       Triple    `json:"b_after"`
	Expected     *float64  `json:"expected_outcome,omitempty"`
	RatingImpact *float64  `json:"rating_impact,omitempty"`
	WasUpset     bool      `json:"was_upset"`
	IsUndone     bool      `json:"is_undone"`
}

const songCols = `id, canonical_name, artist, language, category, youtube_video_id,
       is_original, original_song_id, variant_type,
       rating, rating_deviation, volatility,
       games_played, wins, losses, draws, last_compared, created_at`

func scanSong(row pgx.Row) (*Song, error) {
	var s Song
	err := row.Scan(&s.ID, &s.CanonicalName, &s.Artist, &s.Language, &s.Category, &s.YouTubeVideoID,
		&s.IsOriginal, &s.OriginalSongID, &s.VariantType,
		&s.Rating, &s.Deviation, &s.Volatility,
		&s.GamesPlayed, &s.Wins, &s.Losses, &s.Draws, &s.LastCompared, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

/* -----------------------------
   Song helpers
------------------------------*/

// UpsertSong inserts a song and returns its id. When a YouTube video id is
// present it acts as the identity key, so re-importing a playlist updates
// metadata instead of duplicating rows.
func (db *DB) UpsertSong(ctx context.Context, s *Song) (int64, error) {
	var id int64
	var err error
	if s.YouTubeVideoID != nil && strings.TrimSpace(*s.YouTubeVideoID) != "" {
		err = db.QueryRow(ctx, `
            INSERT INTO songs(canonical_name, artist, language, category, youtube_video_id)
            VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (youtube_video_id) DO UPDATE
              SET canonical_name = EXCLUDED.canonical_name,
                  artist = EXCLUDED.artist,
                  language = EXCLUDED.language,
                  category = EXCLUDED.category
            RETURNING id
        `, s.CanonicalName, s.Artist, s.Language, s.Category, strings.TrimSpace(*s.YouTubeVideoID)).Scan(&id)
	} else {
		err = db.QueryRow(ctx, `
            INSERT INTO songs(canonical_name, artist, language, category)
            VALUES ($1,$2,$3,$4)
            RETURNING id
        `, s.CanonicalName, s.Artist, s.Language, s.Category).Scan(&id)
	}
	return id, err
}

func (db *DB) GetSong(ctx context.Context, id int64) (*Song, error) {
	return scanSong(db.QueryRow(ctx, `SELECT `+songCols+` FROM songs WHERE id = $1`, id))
}

// SongFilter narrows ListSongs and Rankings.
type SongFilter struct {
	Query         string
	Language      string
	Category      string
	OriginalsOnly bool
	MinGames      int
}

func (f SongFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Query != "" {
		add("canonical_name ILIKE $%d", "%"+f.Query+"%")
	}
	if f.Language != "" {
		add("language = $%d", f.Language)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.OriginalsOnly {
		conds = append(conds, "is_original")
	}
	if f.MinGames > 0 {
		add("games_played >= $%d", f.MinGames)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (db *DB) ListSongs(ctx context.Context, f SongFilter) ([]Song, error) {
	where, args := f.where()
	rows, err := db.Query(ctx, `SELECT `+songCols+` FROM songs`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSongs(rows)
}

func collectSongs(rows pgx.Rows) ([]Song, error) {
	var out []Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSongRating persists a new rating triple and stamps last_compared.
func (db *DB) UpdateSongRating(ctx context.Context, id int64, t Triple) error {
	tag, err := db.Exec(ctx, `
		UPDATE songs
		   SET rating = $2,
		       rating_deviation = $3,
		       volatility = $4,
		       last_compared = now()
		 WHERE id = $1
	`, id, t.Rating, t.Deviation, t.Volatility)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSongStats bumps the win/loss/draw counters for one outcome, seen
// from the song's own perspective.
func (db *DB) UpdateSongStats(ctx context.Context, id int64, outcome float64) error {
	wins, losses, draws := outcomeCounts(outcome)
	tag, err := db.Exec(ctx, `
		UPDATE songs
		   SET games_played = games_played + 1,
		       wins = wins + $2,
		       losses = losses + $3,
		       draws = draws + $4
		 WHERE id = $1
	`, id, wins, losses, draws)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// outcomeCounts classifies a continuous outcome for the counters: only the
// exact endpoints count as wins or losses, everything in between is a draw.
func outcomeCounts(outcome float64) (wins, losses, draws int) {
	switch {
	case outcome == 1.0:
		return 1, 0, 0
	case outcome == 0.0:
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

/* -----------------------------
   Comparison audit trail
------------------------------*/

func (db *DB) RecordComparison(ctx context.Context, c *Comparison) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
        INSERT INTO comparisons(
            song_a_id, song_b_id, winner_id, outcome, outcome_type, comparison_mode,
            a_rating_before, a_rd_before, a_vol_before,
            a_rating_after,  a_rd_after,  a_vol_after,
            b_rating_before, b_rd_before, b_vol_before,
            b_rating_after,  b_rd_after,  b_vol_after,
            expected_outcome, rating_impact, was_upset)
        VALUES ($1,$2,$3,$4,$5,$6,
                $7,$8,$9,$10,$11,$12,
                $13,$14,$15,$16,$17,$18,
                $19,$20,$21)
        RETURNING id
    `, c.SongAID, c.SongBID, c.WinnerID, c.Outcome, c.OutcomeType, c.Mode,
		c.ABefore.Rating, c.ABefore.Deviation, c.ABefore.Volatility,
		c.AAfter.Rating, c.AAfter.Deviation, c.AAfter.Volatility,
		c.BBefore.Rating, c.BBefore.Deviation, c.BBefore.Volatility,
		c.BAfter.Rating, c.BAfter.Deviation, c.BAfter.Volatility,
		c.Expected, c.RatingImpact, c.WasUpset).Scan(&id)
	return id, err
}

const comparisonCols = `id, created_at, song_a_id, song_b_id, winner_id, outcome, outcome_type, comparison_mode,
       a_rating_before, a_rd_before, a_vol_before, a_rating_after, a_rd_after, a_vol_after,
       b_rating_before, b_rd_before, b_vol_before, b_rating_after, b_rd_after, b_vol_after,
       expected_outcome, rating_impact, was_upset, is_undone`

func scanComparison(row pgx.Row) (*Comparison, error) {
	var c Comparison
	err := row.Scan(&c.ID, &c.CreatedAt, &c.SongAID, &c.SongBID, &c.WinnerID, &c.Outcome, &c.OutcomeType, &c.Mode,
		&c.ABefore.Rating, &c.ABefore.Deviation, &c.ABefore.Volatility,
		&c.AAfter.Rating, &c.AAfter.Deviation, &c.AAfter.Volatility,
		&c.BBefore.Rating, &c.BBefore.Deviation, &c.BBefore.Volatility,
		&c.BAfter.Rating, &c.BAfter.Deviation, &c.BAfter.Volatility,
		&c.Expected, &c.RatingImpact, &c.WasUpset, &c.IsUndone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (db *DB) RecentComparisons(ctx context.Context, limit int) ([]Comparison, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(ctx, `
		SELECT `+comparisonCols+`
		  FROM comparisons
		 WHERE NOT is_undone
		 ORDER BY created_at DESC
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comparison
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (db *DB) ComparisonCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT count(*) FROM comparisons WHERE NOT is_undone`).Scan(&n)
	return n, err
}

// LastComparison returns the most recent comparison that has not been
// undone.
func (db *DB) LastComparison(ctx context.Context) (*Comparison, error) {
	return scanComparison(db.QueryRow(ctx, `
		SELECT `+comparisonCols+`
		  FROM comparisons
		 WHERE NOT is_undone
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
	`))
}

// UndoComparison marks a comparison undone and restores both songs to their
// recorded "before" state, all inside one transaction.
func (db *DB) UndoComparison(ctx context.Context, id int64) error {
	c, err := scanComparison(db.QueryRow(ctx, `SELECT `+comparisonCols+` FROM comparisons WHERE id = $1`, id))
	if err != nil {
		return err
	}
	if c.IsUndone {
		return fmt.Errorf("store: comparison %d already undone", id)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE comparisons SET is_undone = TRUE WHERE id = $1`, id); err != nil {
		return err
	}

	restore := func(songID int64, before Triple, outcome float64) error {
		wins, losses, draws := outcomeCounts(outcome)
		_, err := tx.Exec(ctx, `
			UPDATE songs
			   SET rating = $2,
			       rating_deviation = $3,
			       volatility = $4,
			       games_played = greatest(games_played - 1, 0),
			       wins = greatest(wins - $5, 0),
			       losses = greatest(losses - $6, 0),
			       draws = greatest(draws - $7, 0)
			 WHERE id = $1
		`, songID, before.Rating, before.Deviation, before.Volatility, wins, losses, draws)
		return err
	}
	if err := restore(c.SongAID, c.ABefore, c.Outcome); err != nil {
		return err
	}
	if err := restore(c.SongBID, c.BBefore, 1.0-c.Outcome); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

/* -----------------------------
   Rankings & statistics
------------------------------*/

// rankingSorts whitelists user-supplied sort keys.
var rankingSorts = map[string]string{
	"rating":         "rating",
	"games_played":   "games_played",
	"wins":           "wins",
	"canonical_name": "canonical_name",
}

func (db *DB) Rankings(ctx context.Context, f SongFilter, sortBy string, ascending bool) ([]Song, error) {
	col, ok := rankingSorts[sortBy]
	if !ok {
		col = "rating"
	}
	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	where, args := f.where()
	rows, err := db.Query(ctx, `SELECT `+songCols+` FROM songs`+where+
		` ORDER BY `+col+` `+dir+`, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSongs(rows)
}

type Stats struct {
	TotalSongs        int            `json:"total_songs"`
	TotalOriginals    int            `json:"total_originals"`
	TotalVariants     int            `json:"total_variants"`
	TotalComparisons  int            `json:"total_comparisons"`
	AvgRating         float64        `json:"avg_rating"`
	MaxRating         float64        `json:"max_rating"`
	MinRating         float64        `json:"min_rating"`
	LanguageBreakdown map[string]int `json:"language_breakdown"`
}

func (db *DB) Statistics(ctx context.Context) (*Stats, error) {
	st := Stats{LanguageBreakdown: map[string]int{}}
	err := db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_original),
		       coalesce(avg(rating), 0),
		       coalesce(max(rating), 0),
		       coalesce(min(rating), 0)
		  FROM songs
	`).Scan(&st.TotalSongs, &st.TotalOriginals, &st.AvgRating, &st.MaxRating, &st.MinRating)
	if err != nil {
		return nil, err
	}
	st.TotalVariants = st.TotalSongs - st.TotalOriginals

	if st.TotalComparisons, err = db.ComparisonCount(ctx); err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, `SELECT language, count(*) FROM songs GROUP BY language`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		st.LanguageBreakdown[lang] = n
	}
	return &st, rows.Err()
}

// BulkInsertSongs loads many songs at once (playlist import). Returns the
// number inserted or updated.
func (db *DB) BulkInsertSongs(ctx context.Context, songs []Song) (int, error) {
	n := 0
	for i := range songs {
		if _, err := db.UpsertSong(ctx, &songs[i]); err != nil {
			return n, fmt.Errorf("insert %q: %w", songs[i].CanonicalName, err)
		}
		n++
	}
	return n, nil
}
