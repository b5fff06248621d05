package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DuplicatePair is a candidate merge: two songs by the same artist whose
// normalized titles collide.
type DuplicatePair struct {
	SongA      Song    `json:"song_a"`
	SongB      Song    `json:"song_b"`
	Similarity float64 `json:"similarity"`
}

// normalizeTitle lowercases, trims, and strips spaces and hyphens so that
// "Feel Special" and "FEEL-SPECIAL " collide.
func normalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	t = strings.ReplaceAll(t, " ", "")
	t = strings.ReplaceAll(t, "-", "")
	return t
}

// titleSimilarity scores two titles: 1.0 for an exact case-insensitive
// match, 0.95 for a match after normalization, 0 otherwise.
func titleSimilarity(a, b string) float64 {
	ta := strings.ToLower(strings.TrimSpace(a))
	tb := strings.ToLower(strings.TrimSpace(b))
	switch {
	case ta == tb:
		return 1.0
	case normalizeTitle(a) == normalizeTitle(b):
		return 0.95
	default:
		return 0
	}
}

// FindDuplicates compares every same-artist pair of songs and returns the
// ones whose titles look like the same recording.
func (db *DB) FindDuplicates(ctx context.Context) ([]DuplicatePair, error) {
	songs, err := db.ListSongs(ctx, SongFilter{})
	if err != nil {
		return nil, err
	}
	var out []DuplicatePair
	for i := range songs {
		for j := i + 1; j < len(songs); j++ {
			if songs[i].Artist != songs[j].Artist {
				continue
			}
			if sim := titleSimilarity(songs[i].CanonicalName, songs[j].CanonicalName); sim > 0 {
				out = append(out, DuplicatePair{SongA: songs[i], SongB: songs[j], Similarity: sim})
			}
		}
	}
	return out, nil
}

// MergePreview describes what MergeSongs would do without doing it.
type MergePreview struct {
	Keep                Song `json:"keep"`
	Merge               Song `json:"merge"`
	Merged              Song `json:"merged"`
	ComparisonsAffected int  `json:"comparisons_affected"`
}

// PreviewMerge computes the combined rating state for two songs: rating is
// the games-weighted average, deviation takes the more confident side, and
// volatility is averaged. With no games on either side everything falls
// back to simple averages and the worse uncertainty.
func (db *DB) PreviewMerge(ctx context.Context, keepID, mergeID int64) (*MergePreview, error) {
	keep, err := db.GetSong(ctx, keepID)
	if err != nil {
		return nil, fmt.Errorf("keep song %d: %w", keepID, err)
	}
	mrg, err := db.GetSong(ctx, mergeID)
	if err != nil {
		return nil, fmt.Errorf("merge song %d: %w", mergeID, err)
	}

	merged := *keep
	totalGames := keep.GamesPlayed + mrg.GamesPlayed
	if totalGames == 0 {
		merged.Rating = (keep.Rating + mrg.Rating) / 2
		merged.Deviation = max(keep.Deviation, mrg.Deviation)
		merged.Volatility = max(keep.Volatility, mrg.Volatility)
	} else {
		merged.Rating = (keep.Rating*float64(keep.GamesPlayed) + mrg.Rating*float64(mrg.GamesPlayed)) / float64(totalGames)
		merged.Deviation = min(keep.Deviation, mrg.Deviation)
		merged.Volatility = (keep.Volatility + mrg.Volatility) / 2
	}
	merged.GamesPlayed = totalGames
	merged.Wins = keep.Wins + mrg.Wins
	merged.Losses = keep.Losses + mrg.Losses
	merged.Draws = keep.Draws + mrg.Draws

	var affected int
	err = db.QueryRow(ctx, `
		SELECT count(*) FROM comparisons WHERE song_a_id = $1 OR song_b_id = $1
	`, mergeID).Scan(&affected)
	if err != nil {
		return nil, err
	}

	return &MergePreview{Keep: *keep, Merge: *mrg, Merged: merged, ComparisonsAffected: affected}, nil
}

// MergeSongs folds mergeID into keepID: the kept song takes the combined
// rating state, all comparisons are repointed, and the merged song becomes
// an alias (soft delete). The whole merge is one transaction and is logged
// to admin_actions.
func (db *DB) MergeSongs(ctx context.Context, keepID, mergeID int64, reason string) error {
	if keepID == mergeID {
		return fmt.Errorf("store: cannot merge song %d into itself", keepID)
	}
	pv, err := db.PreviewMerge(ctx, keepID, mergeID)
	if err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := pv.Merged
	if _, err := tx.Exec(ctx, `
		UPDATE songs
		   SET rating = $2,
		       rating_deviation = $3,
		       volatility = $4,
		       games_played = $5,
		       wins = $6,
		       losses = $7,
		       draws = $8
		 WHERE id = $1
	`, keepID, m.Rating, m.Deviation, m.Volatility, m.GamesPlayed, m.Wins, m.Losses, m.Draws); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE comparisons SET song_a_id = $1 WHERE song_a_id = $2`, keepID, mergeID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE comparisons SET song_b_id = $1 WHERE song_b_id = $2`, keepID, mergeID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE songs
		   SET is_original = FALSE,
		       original_song_id = $1,
		       variant_type = 'alias'
		 WHERE id = $2
	`, keepID, mergeID); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"keep_song_id":  keepID,
		"merge_song_id": mergeID,
		"reason":        reason,
		"before_keep":   pv.Keep.State(),
		"before_merge":  pv.Merge.State(),
		"after":         m.State(),
	})
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("Merged %q (%d) into %q (%d). Reason: %s",
		pv.Merge.CanonicalName, mergeID, pv.Keep.CanonicalName, keepID, reason)
	if _, err := tx.Exec(ctx, `
		INSERT INTO admin_actions(action_type, description, affected_song_ids, action_data)
		VALUES ('merge_songs', $1, $2, $3)
	`, desc, fmt.Sprintf("%d,%d", keepID, mergeID), payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type AdminAction struct {
	ID              int64           `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	ActionType      string          `json:"action_type"`
	Description     string          `json:"description"`
	AffectedSongIDs string          `json:"affected_song_ids"`
	ActionData      json.RawMessage `json:"action_data,omitempty"`
}

func (db *DB) RecentActions(ctx context.Context, limit int) ([]AdminAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, created_at, action_type, description, affected_song_ids, action_data
		  FROM admin_actions
		 ORDER BY created_at DESC
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AdminAction
	for rows.Next() {
		var a AdminAction
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.ActionType, &a.Description, &a.AffectedSongIDs, &a.ActionData); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
