package reconcile

import (
	"groupsync/services/linker"
)

const (
	exactTolerance = 0.01

	closePriceGap    = 0.5
	similarPriceGap  = 2.0
	similarOriginGap = 30.0

	scoreEpsilon = 1e-9
)

// similarityScore rates how likely an own listing is the same package as
// a reference from their price gaps. ok is false when the gaps are too
// large to be considered at all.
func similarityScore(priceGap, originGap float64) (score float64, reason string, ok bool) {
	switch {
	case priceGap <= closePriceGap:
		return 100 - priceGap*20 - originGap*0.5, "现价几乎相同", true
	case priceGap <= similarPriceGap && originGap <= similarOriginGap:
		return 100 - priceGap*10 - originGap, "现价和原价都相似", true
	}
	return 0, "", false
}

// MatchHeuristic pairs references with own listings by price. Listings
// with identical prices are paired first, then the rest by a score of
// their price gaps. Unmatched own listings are retired unless protected.
func MatchHeuristic(own []Own, refs []Reference, opts Options) Result {
	refs = indexed(refs)
	var matches []Match
	usedOwn := make([]bool, len(own))
	usedRef := make([]bool, len(refs))

	for i, ref := range refs {
		for j, o := range own {
			if usedOwn[j] {
				continue
			}
			if ref.Price.Diff(o.Price) < exactTolerance && ref.OriginalPrice.Diff(o.OriginPrice) < exactTolerance {
				matches = append(matches, Match{
					Reference: ref,
					Own:       o,
					Action:    ActionKeep,
					Score:     100,
					Reason:    "价格完全相同",
				})
				usedOwn[j] = true
				usedRef[i] = true
				break
			}
		}
	}

	for i, ref := range refs {
		if usedRef[i] {
			continue
		}

		best := -1
		var bestScore, bestSimilarity float64
		var bestReason string
		for j, o := range own {
			if usedOwn[j] {
				continue
			}
			score, reason, ok := similarityScore(ref.Price.Diff(o.Price), ref.OriginalPrice.Diff(o.OriginPrice))
			if !ok || score <= 0 {
				continue
			}
			similarity := linker.Similarity(ref.Title, o.Name)
			if best >= 0 {
				if score < bestScore-scoreEpsilon {
					continue
				}
				if score < bestScore+scoreEpsilon && similarity <= bestSimilarity {
					continue
				}
			}
			best = j
			bestScore = score
			bestSimilarity = similarity
			bestReason = reason
		}
		if best < 0 {
			continue
		}

		o := own[best]
		action := ActionUpdate
		if ref.Price.Diff(o.Price) <= similarPriceGap && ref.OriginalPrice.Diff(o.OriginPrice) < exactTolerance {
			action = ActionKeep
		}
		matches = append(matches, Match{
			Reference: ref,
			Own:       o,
			Action:    action,
			Score:     bestScore,
			Reason:    bestReason,
		})
		usedOwn[best] = true
		usedRef[i] = true
	}

	result := leftovers(own, refs, matches, opts, true)
	result.Engine = EngineHeuristic
	return result
}
