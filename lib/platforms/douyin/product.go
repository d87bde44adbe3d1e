package douyin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"groupsync/lib/money"
)

// Detail is the raw online document of a product. It is kept untyped
// because save requests must round-trip every field the api sent.
type Detail map[string]any

func (d Detail) Clone() (Detail, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return decodeDetail(string(raw))
}

func (d Detail) Product() map[string]any {
	product, _ := d["product"].(map[string]any)
	return product
}

// Sku returns skus[0] when present, falling back to sku.
func (d Detail) Sku() map[string]any {
	if skus, ok := d["skus"].([]any); ok && len(skus) > 0 {
		if sku, ok := skus[0].(map[string]any); ok {
			return sku
		}
	}
	sku, _ := d["sku"].(map[string]any)
	return sku
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case json.Number:
		i, err := v.Int64()
		if err == nil {
			return i
		}
		f, _ := v.Float64()
		return int64(f)
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		i, _ := strconv.ParseInt(v, 10, 64)
		return i
	}
	return 0
}

func ensureMap(m map[string]any, key string) map[string]any {
	existing, ok := m[key].(map[string]any)
	if ok {
		return existing
	}
	created := map[string]any{}
	m[key] = created
	return created
}

func marshalString(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

type notificationEntry struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

const (
	titleNotes    = "使用须知"
	titleLimit    = "限购说明"
	titleValidity = "有效期"
	areaPrefix    = "适用区域: "

	defaultNotes    = "请按照商家规定使用"
	defaultLimit    = "无限制"
	defaultValidity = "30"
	defaultArea     = "全场通用"
	unknown         = "未知"
)

func normalizeValidity(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "购买后")
	v = strings.TrimSuffix(v, "内有效")
	v = strings.TrimSuffix(v, "日")
	v = strings.TrimSuffix(v, "天")
	if v == "" || v == unknown {
		return defaultValidity
	}
	return v
}

func orDefault(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == unknown {
		return fallback
	}
	return v
}

func notification(notes, limit, validity string) string {
	return marshalString([]notificationEntry{
		{Title: titleNotes, Content: orDefault(notes, defaultNotes)},
		{Title: titleLimit, Content: orDefault(limit, defaultLimit)},
		{Title: titleValidity, Content: fmt.Sprintf("购买后%s日内有效", normalizeValidity(validity))},
	})
}

func description(area string) string {
	return marshalString([]string{areaPrefix + orDefault(area, defaultArea)})
}

// Info is the human facing summary of a product detail.
type Info struct {
	ID       string
	Name     string
	Price    money.Price
	Area     string
	Limit    string
	Validity string
	Notes    string
}

// ParseDetails extracts the editable fields of a product detail.
func ParseDetails(detail Detail) (Info, error) {
	product := detail.Product()
	if product == nil {
		return Info{}, fmt.Errorf("douyin: detail has no product")
	}
	info := Info{
		ID:       stringField(product, "product_id"),
		Name:     stringField(product, "product_name"),
		Area:     unknown,
		Limit:    unknown,
		Validity: unknown,
	}
	if sku := detail.Sku(); sku != nil {
		info.Price = money.FromCents(intField(sku, "actual_amount"))
	}

	attrs, _ := product["attr_key_value_map"].(map[string]any)
	var entries []notificationEntry
	err := json.Unmarshal([]byte(orDefault(stringField(attrs, "Notification"), "[]")), &entries)
	if err == nil {
		titles := map[string]string{}
		for _, e := range entries {
			titles[e.Title] = e.Content
		}
		validity, ok := titles[titleValidity]
		if !ok {
			validity = "购买后30日内有效"
		}
		info.Validity = strings.TrimSuffix(strings.TrimPrefix(validity, "购买后"), "内有效")
		info.Limit = titles[titleLimit]
		if info.Limit == "" {
			info.Limit = "无"
		}
		info.Notes = titles[titleNotes]
	}

	var desc []string
	err = json.Unmarshal([]byte(orDefault(stringField(attrs, "Description"), "[]")), &desc)
	if err == nil && len(desc) > 0 {
		info.Area = strings.TrimPrefix(desc[0], areaPrefix)
	}

	return info, nil
}

// IsHidden reports whether a product is hidden from the live channel.
func IsHidden(detail Detail) bool {
	product := detail.Product()
	if product == nil {
		return false
	}
	attrs, _ := product["attr_key_value_map"].(map[string]any)
	return stringField(attrs, "show_channel") == "2"
}

// Edit describes the new state of an existing product.
type Edit struct {
	Title string
	Price money.Price
	// zero keeps max(existing origin, price)
	OriginPrice money.Price
	Area        string
	Limit       string
	Validity    string
	Notes       string
	// keeps the existing amounts, only the title and attributes change
	SkipPrice bool
}

func setPOI(product map[string]any, poiId string) error {
	product["pois"] = []any{map[string]any{"poi_id": poiId}}

	extra := map[string]any{}
	raw := stringField(product, "extra")
	if raw != "" {
		err := json.Unmarshal([]byte(raw), &extra)
		if err != nil {
			return fmt.Errorf("douyin: parse product extra: %w", err)
		}
	}
	extra["poi_set_id"] = poiId
	product["extra"] = marshalString(extra)
	return nil
}

func existingPOI(product map[string]any) string {
	raw := stringField(product, "extra")
	if raw == "" {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	extra := map[string]any{}
	if dec.Decode(&extra) != nil {
		return ""
	}
	return stringField(extra, "poi_set_id")
}

// syncCommodityPrices rewrites every commodity item price to the origin
// amount, some categories require the item prices to sum to it.
func syncCommodityPrices(sku map[string]any, originCents int64) error {
	attrs := ensureMap(sku, "attr_key_value_map")
	raw := stringField(attrs, "commodity")
	if raw == "" {
		return nil
	}

	var groups []map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	err := dec.Decode(&groups)
	if err != nil {
		return fmt.Errorf("douyin: parse commodity: %w", err)
	}
	price := strconv.FormatInt(originCents, 10)
	for _, group := range groups {
		items, _ := group["item_list"].([]any)
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				m["price"] = price
			}
		}
	}
	attrs["commodity"] = marshalString(groups)
	return nil
}

func setIfMissing(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// BuildUpdate produces the save request that rewrites a product to the
// given edit. When targetPoi is set the product is also moved to it.
func BuildUpdate(accountId string, detail Detail, edit Edit, targetPoi string) (SaveRequest, error) {
	detail, err := detail.Clone()
	if err != nil {
		return SaveRequest{}, err
	}
	product := detail.Product()
	sku := detail.Sku()
	if product == nil || sku == nil {
		return SaveRequest{}, fmt.Errorf("douyin: product detail is incomplete")
	}

	product["product_name"] = edit.Title
	sku["sku_name"] = edit.Title

	if !edit.SkipPrice {
		actual := edit.Price.Cents()
		sku["actual_amount"] = actual
		if edit.OriginPrice.IsPositive() {
			sku["origin_amount"] = edit.OriginPrice.Cents()
		} else {
			origin := intField(sku, "origin_amount")
			if origin == 0 {
				origin = actual
			}
			sku["origin_amount"] = max(origin, actual)
		}
	}

	attrs := ensureMap(product, "attr_key_value_map")
	attrs["Notification"] = notification(edit.Notes, edit.Limit, edit.Validity)
	attrs["Description"] = description(edit.Area)
	setIfMissing(attrs, "RefundPolicy", "2")
	setIfMissing(ensureMap(sku, "attr_key_value_map"), "use_type", "1")

	var poiIds []string
	if targetPoi != "" {
		err = setPOI(product, targetPoi)
		if err != nil {
			return SaveRequest{}, err
		}
		poiIds = []string{targetPoi}
	} else if existing := existingPOI(product); existing != "" {
		poiIds = []string{existing}
	}

	err = syncCommodityPrices(sku, intField(sku, "origin_amount"))
	if err != nil {
		return SaveRequest{}, err
	}

	return SaveRequest{
		AccountId:      accountId,
		Product:        product,
		Sku:            sku,
		PoiIds:         poiIds,
		SupplierExtIds: poiIds,
	}, nil
}

// BuildPOIPatch moves a freshly created product onto its real POI and
// fills in attributes the open api requires but the web api omits.
// Existing attributes are left as they are.
func BuildPOIPatch(accountId string, detail Detail, targetPoi string) (SaveRequest, error) {
	if targetPoi == "" {
		return SaveRequest{}, fmt.Errorf("douyin: target poi is required")
	}
	detail, err := detail.Clone()
	if err != nil {
		return SaveRequest{}, err
	}
	product := detail.Product()
	sku := detail.Sku()
	if product == nil || sku == nil {
		return SaveRequest{}, fmt.Errorf("douyin: product detail is incomplete")
	}

	err = setPOI(product, targetPoi)
	if err != nil {
		return SaveRequest{}, err
	}

	attrs := ensureMap(product, "attr_key_value_map")
	setIfMissing(attrs, "RefundPolicy", "2")
	setIfMissing(attrs, "Notification", notification("", "每人限购1份", ""))
	setIfMissing(attrs, "Description", description(""))
	setIfMissing(ensureMap(sku, "attr_key_value_map"), "use_type", "1")

	return SaveRequest{
		AccountId:      accountId,
		Product:        product,
		Sku:            sku,
		PoiIds:         []string{targetPoi},
		SupplierExtIds: []string{targetPoi},
	}, nil
}
