package reconcile

import (
	"groupsync/lib/money"
	"groupsync/services/executor"
	"groupsync/services/instruct"
)

// ReferenceDraft is what an own listing should become to mirror ref.
func ReferenceDraft(ref Reference) instruct.Draft {
	return instruct.Draft{
		Title:         ref.Title,
		Price:         ref.Price,
		OriginPrice:   money.Max(ref.OriginalPrice, ref.Price),
		CommodityType: instruct.InferCommodityType(ref.Title),
		MemberType:    instruct.InferMemberType(ref.Title),
		Location:      instruct.DefaultLocation,
	}
}

func ownDraft(o Own) instruct.Draft {
	return instruct.Draft{
		Title:       o.Name,
		Price:       o.Price,
		OriginPrice: o.OriginPrice,
	}
}

// Operations turns the result into executor operations: matches in
// reference order, then creates, retires and untouched listings.
func (r Result) Operations() []executor.Operation {
	var ops []executor.Operation
	for _, m := range r.Matches {
		switch m.Action {
		case ActionUpdate:
			ops = append(ops, executor.Operation{
				Mode:      executor.ModeUpdate,
				ProductID: m.Own.ID,
				Draft:     ReferenceDraft(m.Reference),
				Reason:    m.Reason,
			})
		default:
			ops = append(ops, executor.Operation{
				Mode:      executor.ModeKeep,
				ProductID: m.Own.ID,
				Draft:     ownDraft(m.Own),
				Reason:    m.Reason,
			})
		}
	}
	for _, ref := range r.Creates {
		ops = append(ops, executor.Operation{
			Mode:   executor.ModeCreate,
			Draft:  ReferenceDraft(ref),
			Reason: "无对应商品",
		})
	}
	for _, o := range r.Retires {
		ops = append(ops, executor.Operation{
			Mode:      executor.ModeRetire,
			ProductID: o.ID,
			Draft:     ownDraft(o),
			Reason:    "无美团对应",
		})
	}
	for _, o := range r.Untouched {
		ops = append(ops, executor.Operation{
			Mode:      executor.ModeKeep,
			ProductID: o.ID,
			Draft:     ownDraft(o),
			Reason:    "保持原样",
		})
	}
	return ops
}
