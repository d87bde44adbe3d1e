package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"groupsync/lib/llm/llmtest"
	"groupsync/lib/money"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/meituan"
	"groupsync/services/executor"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func p(yuan float64) money.Price {
	return money.New(yuan)
}

var (
	ownNewcomer  = Own{ID: "a", Name: "【新客】19.9得50网费", Price: p(19.9), OriginPrice: p(50)}
	ownHourly    = Own{ID: "b", Name: "5小时包时", Price: p(39.9), OriginPrice: p(119.7)}
	ownNetFee    = Own{ID: "c", Name: "100元网费", Price: p(88), OriginPrice: p(100)}
	ownProtected = Own{ID: "d", Name: "【新老会员】28得30网费", Price: p(28), OriginPrice: p(30)}
	ownOvernight = Own{ID: "e", Name: "通宵包房", Price: p(120), OriginPrice: p(360)}

	testOwn = []Own{ownNewcomer, ownHourly, ownNetFee, ownProtected, ownOvernight}

	testRefs = []Reference{
		{Title: "【新客】19.9得50网费", Price: p(19.9), OriginalPrice: p(50)},
		{Title: "5小时单人包时", Price: p(40.5), OriginalPrice: p(119.7)},
		{Title: "100元网费", Price: p(89), OriginalPrice: p(110)},
		{Title: "新游戏包段", Price: p(500), OriginalPrice: p(600)},
	}
)

func ref(i int) Reference {
	r := testRefs[i]
	r.Index = i
	return r
}

type pair struct {
	Ref    int
	Own    string
	Action Action
}

func pairs(matches []Match) []pair {
	result := make([]pair, len(matches))
	for i, m := range matches {
		result[i] = pair{Ref: m.Reference.Index, Own: m.Own.ID, Action: m.Action}
	}
	return result
}

func TestMatchHeuristic(t *testing.T) {
	result := MatchHeuristic(testOwn, testRefs, Options{ProtectedNames: DefaultProtectedNames})
	require.Equal(t, EngineHeuristic, result.Engine)

	diff := cmp.Diff([]pair{
		{Ref: 0, Own: "a", Action: ActionKeep},
		{Ref: 1, Own: "b", Action: ActionKeep},
		{Ref: 2, Own: "c", Action: ActionUpdate},
	}, pairs(result.Matches))
	if diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, "价格完全相同", result.Matches[0].Reason)
	require.InDelta(t, 94, result.Matches[1].Score, 1e-6)
	require.InDelta(t, 80, result.Matches[2].Score, 1e-6)

	require.Equal(t, []Reference{ref(3)}, result.Creates)
	require.Equal(t, []Own{ownOvernight}, result.Retires)
	require.Equal(t, []Own{ownProtected}, result.Untouched)

	require.Equal(t, Summary{Keep: 2, Update: 1, Create: 1, Retire: 1, Untouched: 1}, result.Summary())
}

func TestMatchHeuristicTieBreak(t *testing.T) {
	own := []Own{
		{ID: "y", Name: "包时套餐", Price: p(50), OriginPrice: p(60)},
		{ID: "x", Name: "60元网费", Price: p(50), OriginPrice: p(60)},
	}
	refs := []Reference{{Title: "60元网费特惠", Price: p(50.3), OriginalPrice: p(60)}}
	result := MatchHeuristic(own, refs, Options{})
	require.Len(t, result.Matches, 1)
	require.Equal(t, "x", result.Matches[0].Own.ID)
	require.Equal(t, ActionKeep, result.Matches[0].Action)

	// identical titles fall back to input order
	own = []Own{
		{ID: "p", Name: "aaa", Price: p(10), OriginPrice: p(20)},
		{ID: "q", Name: "aaa", Price: p(10), OriginPrice: p(20)},
	}
	refs = []Reference{{Title: "bbb", Price: p(10.2), OriginalPrice: p(20)}}
	result = MatchHeuristic(own, refs, Options{})
	require.Equal(t, "p", result.Matches[0].Own.ID)
	require.Equal(t, []Own{own[1]}, result.Retires)
}

func TestMatchHeuristicRejectsDistantPrices(t *testing.T) {
	own := []Own{{ID: "1", Name: "网费", Price: p(10), OriginPrice: p(300)}}
	refs := []Reference{
		// close price but a negative score
		{Title: "网费", Price: p(10.5), OriginalPrice: p(50)},
		// origin gap above the tolerance
		{Title: "网费", Price: p(12), OriginalPrice: p(340)},
	}
	result := MatchHeuristic(own, refs, Options{})
	require.Empty(t, result.Matches)
	require.Len(t, result.Creates, 2)
	require.Equal(t, 1, result.Creates[1].Index)
	require.Len(t, result.Retires, 1)
}

const llmAnswer = "```json\n" + `{
	"matches": [
		{"meituan_index": 0, "douyin_id": "a", "reason": "同为新客网费"},
		{"meituan_index": "2", "douyin_id": "c", "reason": "同为100元网费"},
		{"meituan_index": 1, "douyin_id": "c"},
		{"meituan_index": 9, "douyin_id": "b"},
		{"meituan_index": 3, "douyin_id": "zzz"},
		{"meituan_index": 2, "douyin_id": "b"}
	]
}` + "\n```"

func TestMatchLLM(t *testing.T) {
	provider := llmtest.New(llmAnswer)
	result, err := MatchLLM(context.Background(), provider, testOwn, testRefs, Options{ProtectedNames: DefaultProtectedNames})
	require.NoError(t, err)
	require.Equal(t, EngineLLM, result.Engine)

	diff := cmp.Diff([]pair{
		{Ref: 0, Own: "a", Action: ActionKeep},
		{Ref: 2, Own: "c", Action: ActionUpdate},
	}, pairs(result.Matches))
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, "同为100元网费", result.Matches[1].Reason)
	require.Equal(t, []Reference{ref(1), ref(3)}, result.Creates)
	require.Empty(t, result.Retires)
	require.Equal(t, []Own{ownHourly, ownProtected, ownOvernight}, result.Untouched)

	prompt := provider.Prompts[0]
	require.Contains(t, prompt, `"title": "5小时单人包时"`)
	require.Contains(t, prompt, `"id": "e"`)
	require.Contains(t, prompt, "网费/充值")
}

func TestMatchLLMRetireUnmatched(t *testing.T) {
	provider := llmtest.New(llmAnswer)
	result, err := MatchLLM(context.Background(), provider, testOwn, testRefs, Options{
		ProtectedNames:  DefaultProtectedNames,
		RetireUnmatched: true,
	})
	require.NoError(t, err)
	require.Equal(t, []Own{ownHourly, ownOvernight}, result.Retires)
	require.Equal(t, []Own{ownProtected}, result.Untouched)
}

func TestMatchLLMNumericIds(t *testing.T) {
	own := []Own{{ID: "7300000000000000001", Name: "100元网费", Price: p(88), OriginPrice: p(100)}}
	refs := []Reference{{Title: "100元网费", Price: p(88), OriginalPrice: p(100)}}
	provider := llmtest.New(`{"matches": [{"meituan_index": "0", "douyin_id": 7300000000000000001}]}`)

	result, err := MatchLLM(context.Background(), provider, own, refs, Options{})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	require.Equal(t, ActionKeep, result.Matches[0].Action)
	require.Equal(t, "LLM Match", result.Matches[0].Reason)
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a": " 12 ", "b": 7300000000000000001, "c": null}`), &v)
	require.NoError(t, err)
	require.Equal(t, flexString("12"), v.A)
	require.Equal(t, flexString("7300000000000000001"), v.B)
	require.Equal(t, flexString(""), v.C)

	require.Error(t, json.Unmarshal([]byte(`{"a": true}`), &v))
}

func TestDedup(t *testing.T) {
	r0 := Reference{Index: 0, Price: p(10)}
	r1 := Reference{Index: 1, Price: p(20)}
	r2 := Reference{Index: 2, Price: money.Zero}

	x := Own{ID: "x", Price: p(19)}
	y := Own{ID: "y", Price: p(11)}

	matches := Dedup([]Match{
		{Reference: r0, Own: x},
		{Reference: r1, Own: x},
		// unparseable price never beats a real gap
		{Reference: r2, Own: x},
		{Reference: r1, Own: y},
		{Reference: r0, Own: y},
	})
	diff := cmp.Diff([]Match{
		{Reference: r1, Own: x},
		{Reference: r0, Own: y},
	}, matches, cmp.Comparer(func(a, b money.Price) bool { return a.Cmp(b) == 0 }))
	if diff != "" {
		t.Fatal(diff)
	}

	// a reference answered twice goes to the first listing
	matches = Dedup([]Match{
		{Reference: r0, Own: x},
		{Reference: r0, Own: y},
	})
	require.Len(t, matches, 1)
	require.Equal(t, "x", matches[0].Own.ID)
}

func TestEngineFallback(t *testing.T) {
	ctx := context.Background()

	provider := llmtest.Failing(errors.New("rate limited"))
	engine := NewEngine(provider, Config{})
	result := engine.Reconcile(ctx, testOwn, testRefs)
	require.Equal(t, EngineHeuristic, result.Engine)
	require.Equal(t, 1, provider.Calls())
	// unmatched listings stay untouched like they would with the llm engine
	require.Empty(t, result.Retires)
	require.True(t, slices.ContainsFunc(result.Untouched, func(o Own) bool { return o.Name == "通宵包房" }))

	provider = llmtest.Failing(errors.New("rate limited"))
	result = NewEngine(provider, Config{RetireUnmatched: true}).Reconcile(ctx, testOwn, testRefs)
	require.Equal(t, EngineHeuristic, result.Engine)
	require.Len(t, result.Retires, 1)
	require.Equal(t, "通宵包房", result.Retires[0].Name)

	result = NewEngine(nil, Config{Engine: EngineLLM}).Reconcile(ctx, testOwn, testRefs)
	require.Equal(t, EngineHeuristic, result.Engine)
	require.Empty(t, result.Retires)

	result = NewEngine(nil, Config{Engine: EngineHeuristic}).Reconcile(ctx, testOwn, testRefs)
	require.Len(t, result.Retires, 1)

	provider = llmtest.New(llmAnswer)
	result = NewEngine(provider, Config{}).WithEngine(EngineHeuristic).Reconcile(ctx, testOwn, testRefs)
	require.Equal(t, EngineHeuristic, result.Engine)
	require.Equal(t, 0, provider.Calls())

	result = NewEngine(provider, Config{}).Reconcile(ctx, testOwn, testRefs)
	require.Equal(t, EngineLLM, result.Engine)
	require.Empty(t, result.Retires)
}

func TestEngineEmptyReferences(t *testing.T) {
	provider := llmtest.New(llmAnswer)
	result := NewEngine(provider, Config{Engine: EngineHeuristic}).Reconcile(context.Background(), testOwn, nil)
	require.Empty(t, result.Matches)
	require.Empty(t, result.Retires)
	require.Equal(t, testOwn, result.Untouched)
	require.Equal(t, 0, provider.Calls())
}

func TestConfig(t *testing.T) {
	config := Config{}.WithDefaults()
	require.Equal(t, EngineLLM, config.Engine)
	require.Equal(t, DefaultProtectedNames, config.ProtectedNames)
	require.NoError(t, config.Validate())

	config = Config{ProtectedNames: []string{}}.WithDefaults()
	require.Empty(t, config.ProtectedNames)

	require.Error(t, Config{Engine: "magic"}.Validate())
}

func TestOperations(t *testing.T) {
	result := MatchHeuristic(testOwn, testRefs, Options{ProtectedNames: DefaultProtectedNames})
	ops := result.Operations()

	diff := cmp.Diff([]executor.Operation{
		{Mode: executor.ModeKeep, ProductID: "a"},
		{Mode: executor.ModeKeep, ProductID: "b"},
		{Mode: executor.ModeUpdate, ProductID: "c"},
		{Mode: executor.ModeCreate},
		{Mode: executor.ModeRetire, ProductID: "e"},
		{Mode: executor.ModeKeep, ProductID: "d"},
	}, ops, cmpopts.IgnoreFields(executor.Operation{}, "Draft", "Reason"))
	if diff != "" {
		t.Fatal(diff)
	}

	update := ops[2].Draft
	require.Equal(t, "100元网费", update.Title)
	require.Equal(t, int64(8900), update.Price.Cents())
	require.Equal(t, int64(11000), update.OriginPrice.Cents())
	require.Equal(t, "网费", update.CommodityType)

	create := ops[3].Draft
	require.Equal(t, "新游戏包段", create.Title)
	require.Equal(t, int64(60000), create.OriginPrice.Cents())
	require.Equal(t, "包时", create.CommodityType)

	require.Equal(t, "通宵包房", ops[4].Draft.Title)
}

func TestConversions(t *testing.T) {
	own := OwnFromProducts([]douyin.Product{{ID: "1", Name: "x", Price: p(1), OriginPrice: p(2)}})
	require.Equal(t, []Own{{ID: "1", Name: "x", Price: p(1), OriginPrice: p(2)}}, own)

	refs := ReferencesFromDeals([]meituan.Deal{
		{Title: "a", Price: p(1), OriginalPrice: p(2)},
		{Title: "b", Price: p(3), OriginalPrice: p(4)},
	})
	require.Equal(t, 1, refs[1].Index)
	require.Equal(t, "b", refs[1].Title)
}
