package douyinweb

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"groupsync/lib/money"
)

const (
	CommodityNetFee = "网费"
	CommodityHourly = "包时"

	MemberNew       = "新客"
	MemberReturning = "老客"
	MemberAny       = "不限制"
)

// NewProduct is what a recreated product should look like.
type NewProduct struct {
	Title         string
	Price         money.Price
	OriginPrice   money.Price
	CommodityType string
	MemberType    string
}

type suitableGroup struct {
	Key   int    `json:"key"`
	Value string `json:"value"`
}

func memberGroup(memberType string) suitableGroup {
	switch memberType {
	case MemberNew:
		return suitableGroup{Key: 2, Value: "本店新会员"}
	case MemberReturning:
		return suitableGroup{Key: 3, Value: "本店老会员"}
	}
	return suitableGroup{Key: 1, Value: MemberAny}
}

type classify struct {
	Value    int    `json:"value"`
	Label    string `json:"label"`
	IsCustom *bool  `json:"isCustom"`
}

type commodityItem struct {
	Count                   string `json:"count"`
	CountUnit               string `json:"count-unit"`
	IncludeMeal             string `json:"includeMeal"`
	ItemOpticalItemClassify string `json:"itemOpticalItemClassify"`
	ItemSuitableGroup       string `json:"itemSuitableGroup"`
	Name                    string `json:"name"`
	Price                   string `json:"price"`
	Unit                    string `json:"unit"`
}

type commodityGroup struct {
	GroupName   string          `json:"group_name"`
	TotalCount  int             `json:"total_count"`
	OptionCount int             `json:"option_count"`
	ItemList    []commodityItem `json:"item_list"`
}

func mustJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// commodity builds the single-item commodity group, the item price must
// be a string of the origin amount in cents.
func commodity(np NewProduct, originCents int64) string {
	groupName := CommodityNetFee
	itemClassify := classify{Value: 1, Label: "网费服务"}
	if np.CommodityType != "" && np.CommodityType != CommodityNetFee {
		groupName = np.CommodityType
		itemClassify = classify{Value: 2, Label: "上网包时类服务"}
	}

	return mustJSON([]commodityGroup{{
		GroupName:   groupName,
		TotalCount:  1,
		OptionCount: 1,
		ItemList: []commodityItem{{
			Count:                   "1",
			CountUnit:               mustJSON(map[string]any{"count": 1, "unit": "FEN"}),
			IncludeMeal:             mustJSON(map[string]any{"value": false}),
			ItemOpticalItemClassify: mustJSON(itemClassify),
			ItemSuitableGroup:       mustJSON(memberGroup(np.MemberType)),
			Name:                    groupName,
			Price:                   strconv.FormatInt(originCents, 10),
			Unit:                    "FEN",
		}},
	}})
}

type soldTime struct {
	SoldStartTime string `json:"soldStartTime"`
	SoldEndTime   string `json:"soldEndTime"`
	AutoRenew     bool   `json:"autoRenew"`
	SoldTimeType  int    `json:"soldTimeType"`
}

const saleWindow = 90 * 24 * time.Hour

// BuildFromTemplate turns a fetched template into a save payload for a
// new product. The template is consumed (mutated) by this call. Images
// and every field not named here are reused from the template.
func BuildFromTemplate(template map[string]any, np NewProduct, placeholderPoiSetId string, now time.Time) (map[string]any, error) {
	delete(template, "product_permission_list")

	product, ok := template["product"].(map[string]any)
	if !ok {
		return nil, ErrInvalidTemplate
	}
	delete(product, "product_id")

	comp, ok := product["comp_key_value_map"].(map[string]any)
	if !ok {
		return nil, ErrInvalidTemplate
	}

	origin := np.OriginPrice
	if !origin.IsPositive() {
		origin = np.Price
	}
	actualCents := np.Price.Cents()
	originCents := origin.Cents()

	comp["productName"] = np.Title
	comp["actualAmount"] = strconv.FormatInt(actualCents, 10)
	comp["originAmount"] = strconv.FormatInt(originCents, 10)
	comp["auto_renew-sold_end_time-sold_start_time"] = mustJSON(soldTime{
		SoldStartTime: strconv.FormatInt(now.Unix(), 10),
		SoldEndTime:   strconv.FormatInt(now.Add(saleWindow).Unix(), 10),
		AutoRenew:     true,
		SoldTimeType:  1,
	})
	comp["customer_reserved_info-real_name_info"] = `{"customerReservedInfo":{"allow":false},"realNameInfo":{"enable":false}}`
	comp["commodity"] = commodity(np, originCents)

	boost := `{"ai_recommend_title":"","ai_recommend_title_source":""}`
	if extra, ok := product["extra_map"].(map[string]any); ok {
		if existing, ok := extra["boost_strategy"].(string); ok && existing != "" {
			boost = existing
		}
	}
	product["extra_map"] = map[string]any{
		"poi_set_id":       placeholderPoiSetId,
		"poi_check_result": "",
		"boost_strategy":   boost,
	}

	if sku, ok := template["sku"].(map[string]any); ok {
		sku["actual_amount"] = actualCents
		sku["origin_amount"] = originCents
		sku["sku_name"] = np.Title
	}

	return map[string]any{
		"product_detail":                template,
		"save_product_draft_cache_type": 4,
		"product_cache_scene":           1,
		"version_info": map[string]any{
			"Enable":      true,
			"VersionName": "1.0.8",
		},
	}, nil
}
