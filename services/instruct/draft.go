package instruct

import (
	"errors"
	"regexp"
	"strings"

	"groupsync/lib/money"
	"groupsync/lib/textutil"
)

const (
	CommodityNetFee = "网费"
	CommodityHourly = "包时"

	MemberNew       = "新客"
	MemberReturning = "老客"
	MemberAny       = "不限制"

	DefaultLocation = "大厅"
)

// hourly packages have no list price, it is estimated from the sale price
const hourlyOriginFactor = 3

// Draft describes what a listing should look like after an operation.
// The json names match what the analysis prompt asks the model for.
type Draft struct {
	Title         string      `json:"团购标题"`
	Price         money.Price `json:"售价"`
	OriginPrice   money.Price `json:"原价"`
	MemberType    string      `json:"member_type,omitempty"`
	CommodityType string      `json:"commodity_type,omitempty"`
	Location      string      `json:"applicable_location,omitempty"`
	Area          string      `json:"可用区域,omitempty"`
	Limit         string      `json:"限购,omitempty"`
	Validity      string      `json:"有效期,omitempty"`
	Notes         string      `json:"团单备注,omitempty"`
}

func InferCommodityType(title string) string {
	if strings.Contains(title, CommodityNetFee) {
		return CommodityNetFee
	}
	return CommodityHourly
}

func InferMemberType(title string) string {
	switch {
	case textutil.ContainsAny(title, "新老"):
		return MemberAny
	case textutil.ContainsAny(title, "新客", "新会员", "新人"):
		return MemberNew
	case textutil.ContainsAny(title, "老客", "会员"):
		return MemberReturning
	}
	return MemberAny
}

func normalizeMemberType(memberType string) string {
	switch memberType {
	case MemberNew, MemberReturning, MemberAny:
		return memberType
	case "":
		return ""
	}
	return InferMemberType(memberType)
}

var titlePricesRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*得\s*(\d+(?:\.\d+)?)`)

// ParseTitlePrices reads "<price>得<origin>" out of a net fee title like
// "【新客】19.9得50网费".
func ParseTitlePrices(title string) (money.Price, money.Price, bool) {
	groups := titlePricesRegex.FindStringSubmatch(title)
	if len(groups) != 3 {
		return money.Zero, money.Zero, false
	}
	price, err := money.ParsePrice(groups[1])
	if err != nil {
		return money.Zero, money.Zero, false
	}
	origin, err := money.ParsePrice(groups[2])
	if err != nil {
		return money.Zero, money.Zero, false
	}
	return price, origin, true
}

// Normalize fills in derived fields: commodity and member type from the
// title, the default location and the origin price. Hourly packages
// always get an origin of three times the price.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	if d.CommodityType == "" {
		d.CommodityType = InferCommodityType(d.Title)
	}
	d.MemberType = normalizeMemberType(d.MemberType)
	if d.MemberType == "" {
		d.MemberType = InferMemberType(d.Title)
	}
	if d.Location == "" {
		d.Location = DefaultLocation
	}

	switch {
	case d.CommodityType == CommodityHourly && d.Price.IsPositive():
		d.OriginPrice = d.Price.Mul(hourlyOriginFactor)
	case !d.OriginPrice.IsPositive():
		_, origin, ok := ParseTitlePrices(d.Title)
		if ok {
			d.OriginPrice = origin
		}
	}
	if d.OriginPrice.LessThan(d.Price) {
		d.OriginPrice = d.Price
	}
	return d
}

var (
	ErrMissingTitle = errors.New("团购标题不能为空")
	ErrInvalidPrice = errors.New("售价必须大于0")
	ErrMissingPOI   = errors.New("POI ID不能为空")
	ErrMissingToken = errors.New("access token不能为空")
)

func ValidateDraft(d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrMissingTitle
	}
	if !d.Price.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

func ValidatePOI(poiId string) error {
	if strings.TrimSpace(poiId) == "" {
		return ErrMissingPOI
	}
	return nil
}

func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	return nil
}
