package linker

import (
	"groupsync/lib/textutil"

	"github.com/antzucaro/matchr"
)

type ImplicitLink struct {
	Left        string
	Right       string
	Correlation float64
}

// Similarity is the JaroWinkler similarity of two titles after
// normalization, 1 means the titles are equivalent.
func Similarity(a, b string) float64 {
	na := textutil.NormalizeName(a)
	nb := textutil.NormalizeName(b)
	if na == nb {
		return 1
	}
	return matchr.JaroWinkler(na, nb, false)
}

// CreateImplicitLinks pairs every title of the shorter list with at most
// one title of the other list. Equivalent titles are paired first, the
// rest greedily by similarity.
func CreateImplicitLinks(leftList, rightList []string) []ImplicitLink {
	swapped := false
	if len(rightList) < len(leftList) {
		originalLeftList := leftList
		leftList = rightList
		rightList = originalLeftList
		swapped = true
	}

	normalizedRight := make([]string, len(rightList))
	for i, right := range rightList {
		normalizedRight[i] = textutil.NormalizeName(right)
	}

	link := func(left, right string, correlation float64) ImplicitLink {
		if swapped {
			return ImplicitLink{Left: right, Right: left, Correlation: correlation}
		}
		return ImplicitLink{Left: left, Right: right, Correlation: correlation}
	}

	var result []ImplicitLink
	matchedLeft := make([]bool, len(leftList))
	matchedRight := make([]bool, len(rightList))

	for i, left := range leftList {
		normalized := textutil.NormalizeName(left)
		for j, right := range rightList {
			if matchedRight[j] {
				continue
			}
			if normalized == normalizedRight[j] {
				result = append(result, link(left, right, 1))
				matchedLeft[i] = true
				matchedRight[j] = true
				break
			}
		}
	}

	for i, left := range leftList {
		if matchedLeft[i] {
			continue
		}
		normalized := textutil.NormalizeName(left)

		var mostSimilarity float64
		mostSimilarRight := -1
		for j := range rightList {
			if matchedRight[j] {
				continue
			}
			similarity := matchr.JaroWinkler(normalized, normalizedRight[j], false)
			if similarity > mostSimilarity {
				mostSimilarity = similarity
				mostSimilarRight = j
			}
		}

		if mostSimilarRight >= 0 {
			result = append(result, link(left, rightList[mostSimilarRight], mostSimilarity))
			matchedLeft[i] = true
			matchedRight[mostSimilarRight] = true
		}
	}

	return result
}

// Resolve finds the candidate a loosely written name refers to. An exact
// or normalized match always wins, otherwise the most similar candidate
// is returned if its similarity reaches threshold.
func Resolve(name string, candidates []string, threshold float64) (string, float64, bool) {
	for _, candidate := range candidates {
		if candidate == name {
			return candidate, 1, true
		}
	}

	var best string
	var bestSimilarity float64
	for _, candidate := range candidates {
		similarity := Similarity(name, candidate)
		if similarity > bestSimilarity {
			best = candidate
			bestSimilarity = similarity
		}
	}
	if bestSimilarity == 0 || bestSimilarity < threshold {
		return "", bestSimilarity, false
	}
	return best, bestSimilarity, true
}
