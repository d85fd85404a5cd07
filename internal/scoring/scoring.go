// Package scoring computes the ranking score of an ingested post from
// its engagement counters, normalized against the channel's reach.
package scoring

import "github.com/avolkov/reelpipe/internal/core/domain"

// Weights controls the relative contribution of each engagement signal.
type Weights struct {
	Views     float64
	Reactions float64
	Replies   float64
	Forwards  float64
}

// DefaultWeights favors engagement relative to reach over raw views.
func DefaultWeights() Weights {
	return Weights{
		Views:     0.35,
		Reactions: 0.30,
		Replies:   0.15,
		Forwards:  0.20,
	}
}

// reachCap bounds the normalized-views term so a single viral outlier
// does not dominate the whole channel's ranking.
const reachCap = 5.0

// Score is a deterministic pure function: identical inputs always yield
// the identical score. The caller persists it onto the post's
// denormalized ranking field.
func Score(p *domain.Post, stats domain.ChannelStats, w Weights) float32 {
	views := float64(p.Views)

	normViews := 1.0
	if stats.AvgViews > 0 {
		normViews = views / stats.AvgViews
		if normViews > reachCap {
			normViews = reachCap
		}
	}

	var reactionRate, replyRate, forwardRate float64
	if views > 0 {
		reactionRate = float64(p.Reactions) / views
		replyRate = float64(p.Replies) / views
		forwardRate = float64(p.Forwards) / views
	}

	score := w.Views*normViews +
		w.Reactions*reactionRate +
		w.Replies*replyRate +
		w.Forwards*forwardRate

	return float32(score)
}
