package instruct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"groupsync/lib/llm"
	"groupsync/lib/money"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/textutil"
	"groupsync/services/linker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/instruct")

// names returned by the model must be at least this similar to an online
// listing to be acted on
const resolveThreshold = 0.85

type Target struct {
	ProductID string
	Name      string
}

type Change struct {
	Target
	New Draft
}

type Actions struct {
	Add    []Draft
	Update []Change
	Delete []Target
}

func (a Actions) Empty() bool {
	return len(a.Add) == 0 && len(a.Update) == 0 && len(a.Delete) == 0
}

type rawActions struct {
	Add    []Draft `json:"add"`
	Update []struct {
		FromName string `json:"from_name"`
		NewData  Draft  `json:"new_data"`
	} `json:"update"`
	Delete []struct {
		Name string `json:"name"`
	} `json:"delete"`
}

type promptListing struct {
	Name        string      `json:"name"`
	Price       money.Price `json:"price"`
	OriginPrice money.Price `json:"origin_price"`
}

func marshalPrompt(v any) string {
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

func analyzePrompt(text string, online []douyin.Product) string {
	listings := make([]promptListing, len(online))
	for i, p := range online {
		listings[i] = promptListing{Name: p.Name, Price: p.Price, OriginPrice: p.OriginPrice}
	}

	return fmt.Sprintf(`你是一个专业的抖音团购运营助理。请根据用户提供的文本指令和当前的抖音线上商品列表，分析出需要执行的新增、修改、下架操作。

# 当前线上商品列表 (包含名称、现价和原价):
%s

# 用户指令:
---
%s
---

# 任务要求:
1. 分析指令，识别三种操作：add (新增)、update (修改)、delete (下架)。
   如果用户指令中包含"新建"或"新增"，则将所有内容都解析为 add 操作，不要进行 update 或 delete 匹配。
2. 对于 update 和 delete，在线上商品列表中找到最相关的商品。匹配基于核心内容、现价 (price) 和原价 (origin_price) 的模糊匹配，
   例如指令"【9.9得60】换成【19.9得100】"应匹配线上商品 {"name": "【开业新会员】9.9得60网费", "price": 9.9, "origin_price": 60}。
   如果 delete 指令只有价格（如"59.9下架"），按 price 匹配。
3. 对于 add，构建完整商品信息：
   - 售价: 必须从指令中提取。
   - commodity_type: "网费" 或 "包时"。
   - 原价: 网费从指令中提取（"19.9得50网费" 的原价是 50）；包时为售价的3倍，不要把时长当成原价。
   - member_type: "新客"/"新会员" 为 "新客"，"老客"/"会员" 为 "老客"，未提及为 "不限制"。
   - applicable_location: 指令中提到的房间类型或位置，未提及则为 "大厅"。
   - 团购标题: 网费格式为 "【用户类型】售价得原价内容"，例如 "【新客专享】42.9得100元网费"；包时格式为 "时长+套餐描述"，例如 "5小时单人双人包套餐"。
   - 如果指令中包含，也提取 "可用区域"、"限购"、"有效期"、"团单备注"。
4. 对于 update，from_name 必须是线上商品列表中被匹配商品完整的 name，new_data 是包含售价和原价的完整新商品信息。
5. 对于 delete，返回要下架商品完整的 name。

严格按照以下JSON格式返回，不要添加任何解释：
{
  "add": [{"团购标题": "...", "售价": 0.0, "原价": 0.0, "member_type": "新客", "commodity_type": "网费", "applicable_location": "大厅", "可用区域": "...", "限购": "...", "有效期": "...", "团单备注": "..."}],
  "update": [{"from_name": "要修改的线上商品原名称", "new_data": {"团购标题": "修改后的新名称", "售价": 19.9, "原价": 100.0}}],
  "delete": [{"name": "要下架的线上商品名称"}]
}

找不到对应商品进行修改或下架时忽略该操作。价格必须是数字。`, marshalPrompt(listings), text)
}

func isCreateOnly(text string) bool {
	return textutil.ContainsAny(text, "新建", "新增")
}

func resolveTarget(name string, online []douyin.Product) (Target, bool) {
	names := make([]string, len(online))
	for i, p := range online {
		names[i] = p.Name
	}
	resolved, _, ok := linker.Resolve(name, names, resolveThreshold)
	if !ok {
		return Target{}, false
	}
	for _, p := range online {
		if p.Name == resolved {
			return Target{ProductID: p.ID, Name: p.Name}, true
		}
	}
	return Target{}, false
}

func acceptDraft(ctx context.Context, d Draft) (Draft, bool) {
	d = d.Normalize()
	err := ValidateDraft(d)
	if err != nil {
		slog.WarnContext(ctx, "dropping invalid draft", "title", d.Title, "err", err)
		return Draft{}, false
	}
	return d, true
}

// resolveActions turns a model answer into actions against the online
// listings.
func resolveActions(ctx context.Context, raw rawActions, text string, online []douyin.Product) Actions {
	var actions Actions

	for _, d := range raw.Add {
		if d, ok := acceptDraft(ctx, d); ok {
			actions.Add = append(actions.Add, d)
		}
	}

	if isCreateOnly(text) {
		for _, u := range raw.Update {
			if d, ok := acceptDraft(ctx, u.NewData); ok {
				actions.Add = append(actions.Add, d)
			}
		}
		if len(raw.Delete) > 0 {
			slog.InfoContext(ctx, "instruction only creates listings, ignoring deletions", "count", len(raw.Delete))
		}
		return actions
	}

	for _, u := range raw.Update {
		target, ok := resolveTarget(u.FromName, online)
		if !ok {
			slog.WarnContext(ctx, "no online listing to update", "name", u.FromName)
			continue
		}
		d, ok := acceptDraft(ctx, u.NewData)
		if !ok {
			continue
		}
		actions.Update = append(actions.Update, Change{Target: target, New: d})
	}

	seen := make(map[string]bool)
	for _, del := range raw.Delete {
		target, ok := resolveTarget(del.Name, online)
		if !ok {
			slog.WarnContext(ctx, "no online listing to delete", "name", del.Name)
			continue
		}
		if seen[target.ProductID] {
			continue
		}
		seen[target.ProductID] = true
		actions.Delete = append(actions.Delete, target)
	}
	return actions
}

// Analyze asks the model to turn a free text instruction into add,
// update and delete actions against the online listings.
func Analyze(ctx context.Context, provider llm.Provider, text string, online []douyin.Product) (Actions, error) {
	ctx, span := tracer.Start(ctx, "Analyze")
	defer span.End()

	raw, _, err := llm.Ask[rawActions](ctx, provider, analyzePrompt(text, online))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to analyze instruction")
		return Actions{}, err
	}

	actions := resolveActions(ctx, raw, text, online)
	span.SetAttributes(
		attribute.Int("add", len(actions.Add)),
		attribute.Int("update", len(actions.Update)),
		attribute.Int("delete", len(actions.Delete)),
	)
	return actions, nil
}
