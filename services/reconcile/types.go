package reconcile

import (
	"slices"

	"groupsync/lib/money"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/meituan"

	"github.com/samber/lo"
)

// Own is a listing on the merchant's own platform.
type Own struct {
	ID          string
	Name        string
	Price       money.Price
	OriginPrice money.Price
}

// Reference is a deal scraped from the reference platform, Index is its
// position in the scraped list.
type Reference struct {
	Index         int
	Title         string
	Price         money.Price
	OriginalPrice money.Price
}

type Action string

const (
	ActionKeep   Action = "keep"
	ActionUpdate Action = "update"
	ActionCreate Action = "create"
	ActionRetire Action = "retire"
)

type Match struct {
	Reference Reference
	Own       Own
	Action    Action
	Score     float64
	Reason    string
}

type Result struct {
	// "llm" or "heuristic"
	Engine    string
	Matches   []Match
	Creates   []Reference
	Retires   []Own
	Untouched []Own
}

type Summary struct {
	Keep      int
	Update    int
	Create    int
	Retire    int
	Untouched int
}

func (r Result) Summary() Summary {
	return Summary{
		Keep:      lo.CountBy(r.Matches, func(m Match) bool { return m.Action == ActionKeep }),
		Update:    lo.CountBy(r.Matches, func(m Match) bool { return m.Action == ActionUpdate }),
		Create:    len(r.Creates),
		Retire:    len(r.Retires),
		Untouched: len(r.Untouched),
	}
}

var DefaultProtectedNames = []string{"【新老会员】28得30网费", "28得30网费"}

type Options struct {
	// own listings with these exact names are never retired
	ProtectedNames []string
	// only consulted by the llm engine and the heuristic standing in for it,
	// the heuristic engine always retires
	RetireUnmatched bool
}

func (o Options) protected(name string) bool {
	return slices.Contains(o.ProtectedNames, name)
}

func OwnFromProducts(products []douyin.Product) []Own {
	return lo.Map(products, func(p douyin.Product, _ int) Own {
		return Own{ID: p.ID, Name: p.Name, Price: p.Price, OriginPrice: p.OriginPrice}
	})
}

func ReferencesFromDeals(deals []meituan.Deal) []Reference {
	return lo.Map(deals, func(d meituan.Deal, i int) Reference {
		return Reference{Index: i, Title: d.Title, Price: d.Price, OriginalPrice: d.OriginalPrice}
	})
}

// indexed copies refs with Index set to their position.
func indexed(refs []Reference) []Reference {
	return lo.Map(refs, func(r Reference, i int) Reference {
		r.Index = i
		return r
	})
}

// leftovers splits references and own listings not used by matches into
// creates and retires or untouched.
func leftovers(own []Own, refs []Reference, matches []Match, opts Options, retire bool) Result {
	usedRefs := make(map[int]bool, len(matches))
	usedOwn := make(map[string]bool, len(matches))
	for _, m := range matches {
		usedRefs[m.Reference.Index] = true
		usedOwn[m.Own.ID] = true
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return a.Reference.Index - b.Reference.Index
	})
	result := Result{Matches: matches}
	for _, ref := range refs {
		if !usedRefs[ref.Index] {
			result.Creates = append(result.Creates, ref)
		}
	}
	for _, o := range own {
		if usedOwn[o.ID] {
			continue
		}
		if retire && !opts.protected(o.Name) {
			result.Retires = append(result.Retires, o)
			continue
		}
		result.Untouched = append(result.Untouched, o)
	}
	return result
}
