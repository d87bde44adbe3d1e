package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"groupsync/lib/llm"
	"groupsync/lib/money"
	"groupsync/services/linker"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// gap used for prices that cannot be compared
const unknownGap = 9999.0

type promptReference struct {
	Index         int         `json:"index"`
	Title         string      `json:"title"`
	Price         money.Price `json:"price"`
	OriginalPrice money.Price `json:"original_price"`
}

type promptOwn struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Price       money.Price `json:"price"`
	OriginPrice money.Price `json:"origin_price"`
}

func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(v)
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(buf.String())
}

func matchPrompt(own []Own, refs []Reference) string {
	references := make([]promptReference, len(refs))
	for i, r := range refs {
		references[i] = promptReference{Index: r.Index, Title: r.Title, Price: r.Price, OriginalPrice: r.OriginalPrice}
	}
	listings := make([]promptOwn, len(own))
	for i, o := range own {
		listings[i] = promptOwn{ID: o.ID, Name: o.Name, Price: o.Price, OriginPrice: o.OriginPrice}
	}

	return fmt.Sprintf(`你是一个专业的团购运营专家。任务是将"美团套餐"(目标)与"抖音套餐"(现有)进行匹配，以便把抖音套餐更新为与美团一致。

# 核心原则:
1. 高度相似匹配: 对每一个美团套餐，在抖音列表中寻找名称和现价都高度相似的套餐。两者看起来是同一个商品时判定为匹配，匹配到的抖音套餐会被更新为美团的名称和价格。
2. 严格的类型匹配:
   - "网费/充值"类绝不能与"包时/包房/包段"类匹配。
   - "包房/包间"类绝不能与"大厅"类匹配。
   - 相似度不高或类型不一致时不要强行匹配。
3. 新建判定: 美团套餐在抖音列表中找不到高度相似的对应项时视为需要新建，不要为了匹配而匹配。
4. 一对一匹配: 一个美团套餐只能匹配一个抖音套餐，一个抖音套餐也只能被匹配一次。

# 美团套餐列表 (目标标准):
%s

# 抖音套餐列表 (现有库存):
%s

# 输出要求:
返回一个 JSON 对象，包含 matches 列表，每个元素包含 meituan_index (美团列表的 index)、douyin_id (抖音列表的 id) 和 reason。
只有确信是同类产品 (可以经过修改变成一样) 时才匹配。

{
  "matches": [
    {"meituan_index": 0, "douyin_id": "123456", "reason": "同为100元网费，仅价格不同"},
    {"meituan_index": 2, "douyin_id": "789012", "reason": "同为通宵包段"}
  ]
}`, indentJSON(references), indentJSON(listings))
}

// flexString accepts a json string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	err := json.Unmarshal(data, &n)
	if err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawMatches struct {
	Matches []struct {
		ReferenceIndex flexString `json:"meituan_index"`
		OwnID          flexString `json:"douyin_id"`
		Reason         string     `json:"reason"`
	} `json:"matches"`
}

func priceGap(a, b money.Price) float64 {
	if !a.IsPositive() || !b.IsPositive() {
		return unknownGap
	}
	return a.Diff(b)
}

// Dedup resolves many-to-one answers: each own listing keeps only its
// match with the smallest price gap and each reference is used at most
// once, the first occurrence winning.
func Dedup(matches []Match) []Match {
	bestIdx := make(map[string]int)
	var best []Match
	for _, m := range matches {
		gap := priceGap(m.Reference.Price, m.Own.Price)
		i, ok := bestIdx[m.Own.ID]
		if !ok {
			bestIdx[m.Own.ID] = len(best)
			best = append(best, m)
			continue
		}
		if gap < priceGap(best[i].Reference.Price, best[i].Own.Price) {
			best[i] = m
		}
	}

	usedRefs := make(map[int]bool)
	result := make([]Match, 0, len(best))
	for _, m := range best {
		if usedRefs[m.Reference.Index] {
			continue
		}
		usedRefs[m.Reference.Index] = true
		result = append(result, m)
	}
	return result
}

func resolveMatches(ctx context.Context, raw rawMatches, own []Own, refs []Reference) []Match {
	ownById := make(map[string]Own, len(own))
	for _, o := range own {
		ownById[o.ID] = o
	}

	var candidates []Match
	for _, m := range raw.Matches {
		idx, err := strconv.Atoi(string(m.ReferenceIndex))
		if err != nil || idx < 0 || idx >= len(refs) {
			slog.WarnContext(ctx, "ignoring match with invalid reference index", "index", m.ReferenceIndex)
			continue
		}
		o, ok := ownById[string(m.OwnID)]
		if !ok {
			slog.WarnContext(ctx, "ignoring match with unknown listing id", "id", m.OwnID)
			continue
		}
		reason := m.Reason
		if reason == "" {
			reason = "LLM Match"
		}
		candidates = append(candidates, Match{
			Reference: refs[idx],
			Own:       o,
			Score:     linker.Similarity(refs[idx].Title, o.Name),
			Reason:    reason,
		})
	}

	matches := Dedup(candidates)
	for i, m := range matches {
		matches[i].Action = ActionUpdate
		if m.Reference.Price.Diff(m.Own.Price) < exactTolerance && m.Reference.OriginalPrice.Diff(m.Own.OriginPrice) < exactTolerance {
			matches[i].Action = ActionKeep
		}
	}
	return matches
}

// MatchLLM asks the model to pair references with own listings. Own
// listings left unmatched are retired only with opts.RetireUnmatched.
func MatchLLM(ctx context.Context, provider llm.Provider, own []Own, refs []Reference, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "MatchLLM")
	defer span.End()

	refs = indexed(refs)
	raw, completion, err := llm.Ask[rawMatches](ctx, provider, matchPrompt(own, refs))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to match with llm")
		return Result{}, err
	}
	if completion.Reasoning != "" {
		slog.DebugContext(ctx, "model reasoning", "reasoning", completion.Reasoning)
	}

	matches := resolveMatches(ctx, raw, own, refs)
	span.SetAttributes(
		attribute.Int("answered", len(raw.Matches)),
		attribute.Int("matches", len(matches)),
	)

	result := leftovers(own, refs, matches, opts, opts.RetireUnmatched)
	result.Engine = EngineLLM
	return result, nil
}
