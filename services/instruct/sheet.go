package instruct

import (
	"context"
	"fmt"
	"log/slog"

	"groupsync/lib/llm"
	"groupsync/lib/money"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/xlsx"
	"groupsync/services/linker"

	"go.opentelemetry.io/otel/attribute"
)

const DefaultSheetThreshold = 0.8

type SheetMatch struct {
	Product douyin.Product
	Row     xlsx.Row
	// "llm" or "linker"
	Source string
}

// Draft is the listing as described by the sheet row.
func (m SheetMatch) Draft() Draft {
	return Draft{
		Title:    m.Row.Title,
		Price:    m.Row.Price,
		Area:     m.Row.Area,
		Limit:    m.Row.Limit,
		Validity: m.Row.Validity,
		Notes:    m.Row.Notes,
	}.Normalize()
}

type sheetListing struct {
	Name        string      `json:"name"`
	Price       money.Price `json:"price"`
	OriginPrice money.Price `json:"origin_price"`
}

type sheetRow struct {
	Title string      `json:"团购标题"`
	Price money.Price `json:"售价"`
	Area  string      `json:"区域"`
}

func sheetPrompt(own []douyin.Product, rows []xlsx.Row) string {
	listings := make([]sheetListing, len(own))
	for i, p := range own {
		listings[i] = sheetListing{Name: p.Name, Price: p.Price, OriginPrice: p.OriginPrice}
	}
	sheet := make([]sheetRow, len(rows))
	for i, r := range rows {
		sheet[i] = sheetRow{Title: r.Title, Price: r.Price, Area: r.Area}
	}

	return fmt.Sprintf(`# 任务：智能匹配抖音商品与Excel商品

请为"抖音商品列表"中的每一个商品，在"Excel商品列表"中找到唯一且最精确的匹配项。

## 匹配原则:
1. 首先根据商品的核心内容匹配，例如抖音的"【新会员】108网费"应匹配Excel中的"【新会员】108网费"。
2. 在核心内容匹配的基础上严格比较价格，抖音商品的 price 必须与Excel中对应的"售价"几乎完全相等。
3. 多个抖音商品模糊匹配到同一个Excel项时，根据价格区分；无法区分时将其中一个设为 null。
4. 找不到满足条件的匹配项时，值必须是 null。

## 抖音商品列表:
%s

## Excel商品列表:
%s

## 返回格式:
键是抖音商品完整的 name，值是匹配到的Excel商品完整的"团购标题"，不要包含任何解释。
{"抖音商品名称1": "匹配到的Excel团购标题1", "抖音商品名称2": null}`, marshalPrompt(listings), marshalPrompt(sheet))
}

func matchSheetLLM(ctx context.Context, provider llm.Provider, own []douyin.Product, rows []xlsx.Row) ([]SheetMatch, error) {
	answer, _, err := llm.Ask[map[string]*string](ctx, provider, sheetPrompt(own, rows))
	if err != nil {
		return nil, err
	}

	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.Title
	}

	var matches []SheetMatch
	usedRows := make(map[int]bool)
	for _, p := range own {
		title, ok := answer[p.Name]
		if !ok || title == nil {
			continue
		}
		resolved, _, ok := linker.Resolve(*title, titles, resolveThreshold)
		if !ok {
			slog.WarnContext(ctx, "model returned an unknown sheet title", "name", p.Name, "title", *title)
			continue
		}
		for i, r := range rows {
			if r.Title != resolved || usedRows[i] {
				continue
			}
			usedRows[i] = true
			matches = append(matches, SheetMatch{Product: p, Row: r, Source: "llm"})
			break
		}
	}
	return matches, nil
}

func matchSheetLinker(own []douyin.Product, rows []xlsx.Row, threshold float64) []SheetMatch {
	names := make([]string, len(own))
	for i, p := range own {
		names[i] = p.Name
	}
	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.Title
	}

	usedOwn := make(map[int]bool)
	usedRows := make(map[int]bool)
	var matches []SheetMatch
	for _, link := range linker.CreateImplicitLinks(names, titles) {
		if link.Correlation < threshold {
			continue
		}
		ownIdx := -1
		for i, p := range own {
			if p.Name == link.Left && !usedOwn[i] {
				ownIdx = i
				break
			}
		}
		rowIdx := -1
		for i, r := range rows {
			if r.Title == link.Right && !usedRows[i] {
				rowIdx = i
				break
			}
		}
		if ownIdx < 0 || rowIdx < 0 {
			continue
		}
		usedOwn[ownIdx] = true
		usedRows[rowIdx] = true
		matches = append(matches, SheetMatch{Product: own[ownIdx], Row: rows[rowIdx], Source: "linker"})
	}
	return matches
}

// MatchSheet maps online listings onto spreadsheet rows. The model is
// asked first, fuzzy title linking is used when there is no provider or
// the model fails.
func MatchSheet(ctx context.Context, provider llm.Provider, own []douyin.Product, rows []xlsx.Row, threshold float64) []SheetMatch {
	ctx, span := tracer.Start(ctx, "MatchSheet")
	defer span.End()

	if provider != nil {
		matches, err := matchSheetLLM(ctx, provider, own, rows)
		if err == nil {
			span.SetAttributes(attribute.String("source", "llm"), attribute.Int("matches", len(matches)))
			return matches
		}
		span.RecordError(err)
		slog.WarnContext(ctx, "llm sheet matching failed, falling back to title linking", "err", err)
	}

	matches := matchSheetLinker(own, rows, threshold)
	span.SetAttributes(attribute.String("source", "linker"), attribute.Int("matches", len(matches)))
	return matches
}
