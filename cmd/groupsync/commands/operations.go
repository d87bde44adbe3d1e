package commands

import (
	"fmt"

	"groupsync/lib/xlsx"
	"groupsync/services/executor"
	"groupsync/services/instruct"
	"groupsync/services/reconcile"
)

func planRows(store string, result reconcile.Result) []xlsx.PlanRow {
	var rows []xlsx.PlanRow
	for _, m := range result.Matches {
		rows = append(rows, xlsx.PlanRow{
			Store:       store,
			Action:      string(m.Action),
			OwnID:       m.Own.ID,
			OwnName:     m.Own.Name,
			OwnPrice:    m.Own.Price.String(),
			RefTitle:    m.Reference.Title,
			RefPrice:    m.Reference.Price.String(),
			RefOriginal: m.Reference.OriginalPrice.String(),
			Reason:      m.Reason,
		})
	}
	for _, ref := range result.Creates {
		rows = append(rows, xlsx.PlanRow{
			Store:       store,
			Action:      string(reconcile.ActionCreate),
			RefTitle:    ref.Title,
			RefPrice:    ref.Price.String(),
			RefOriginal: ref.OriginalPrice.String(),
		})
	}
	for _, own := range result.Retires {
		rows = append(rows, xlsx.PlanRow{
			Store:    store,
			Action:   string(reconcile.ActionRetire),
			OwnID:    own.ID,
			OwnName:  own.Name,
			OwnPrice: own.Price.String(),
		})
	}
	for _, own := range result.Untouched {
		rows = append(rows, xlsx.PlanRow{
			Store:    store,
			Action:   "untouched",
			OwnID:    own.ID,
			OwnName:  own.Name,
			OwnPrice: own.Price.String(),
		})
	}
	return rows
}

// analyzeOperations turns the result of an instruction into plan
// operations: updates first, then creates, then retires.
func analyzeOperations(actions instruct.Actions) []executor.Operation {
	var ops []executor.Operation
	for _, change := range actions.Update {
		ops = append(ops, executor.Operation{
			Mode:      executor.ModeUpdate,
			ProductID: change.ProductID,
			Draft:     change.New,
			Reason:    fmt.Sprintf("原: %s", change.Name),
		})
	}
	for _, draft := range actions.Add {
		ops = append(ops, executor.Operation{
			Mode:   executor.ModeCreate,
			Draft:  draft,
			Reason: "指令新增",
		})
	}
	for _, target := range actions.Delete {
		ops = append(ops, executor.Operation{
			Mode:      executor.ModeRetire,
			ProductID: target.ProductID,
			Draft:     instruct.Draft{Title: target.Name},
			Reason:    "指令下架",
		})
	}
	return ops
}

// sheetOperations updates every matched listing to its spreadsheet row.
// Listings that already look like their row are kept.
func sheetOperations(matches []instruct.SheetMatch) []executor.Operation {
	ops := make([]executor.Operation, len(matches))
	for i, m := range matches {
		draft := m.Draft()
		mode := executor.ModeUpdate
		if draft.Title == m.Product.Name && draft.Price.Cmp(m.Product.Price) == 0 {
			mode = executor.ModeKeep
		}
		ops[i] = executor.Operation{
			Mode:      mode,
			ProductID: m.Product.ID,
			Draft:     draft,
			Reason:    fmt.Sprintf("表格匹配 (%s): %s", m.Source, m.Product.Name),
		}
	}
	return ops
}
