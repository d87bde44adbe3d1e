package meituan

import (
	"bytes"
	"fmt"

	"groupsync/lib/htmlutil"
	"groupsync/lib/money"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

func firstPrice(values ...gjson.Result) money.Price {
	for _, v := range values {
		if !v.Exists() {
			continue
		}
		p, err := money.ParsePrice(v.String())
		if err == nil && p.IsPositive() {
			return p
		}
	}
	return money.Zero
}

// newDeal applies the shared price rules, ok is false when the deal has
// no usable price.
func newDeal(title string, price, original money.Price) (Deal, bool) {
	if !price.IsPositive() {
		return Deal{}, false
	}
	if original.LessThan(price) {
		original = price
	}
	if title == "" {
		title = "无标题"
	}
	return Deal{Title: title, Price: price, OriginalPrice: original}, true
}

// ParseShelf parses a deal shelf api response.
func ParseShelf(body []byte) ([]Deal, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not json", ErrShelfRejected)
	}
	code := gjson.GetBytes(body, "code")
	if code.Int() != 200 {
		return nil, fmt.Errorf("%w: code %s: %s", ErrShelfRejected, code.Raw, gjson.GetBytes(body, "msg").String())
	}

	var deals []Deal
	areas := gjson.GetBytes(body, "msg.shelfComponent.filterIdAndProductAreas.0.productAreas")
	for _, area := range areas.Array() {
		for _, item := range area.Get("itemArea.productItems").Array() {
			labs := gjson.Parse(item.Get("labs").String())
			price := firstPrice(item.Get("salePrice"), item.Get("price"), labs.Get("price"))
			original := firstPrice(
				item.Get("marketPrice"),
				item.Get("originalPrice"),
				labs.Get("marketPrice"),
				labs.Get("originalPrice"),
			)
			deal, ok := newDeal(item.Get("title").String(), price, original)
			if ok {
				deals = append(deals, deal)
			}
		}
	}
	return deals, nil
}

func parseDealList(doc *goquery.Document) []Deal {
	var deals []Deal
	doc.Find("dl.bd-deal-list dd a.react").Each(func(_ int, item *goquery.Selection) {
		price, _ := money.ParsePrice(htmlutil.Text(item.Find("span.strong")))
		original, _ := money.ParsePrice(htmlutil.Text(item.Find("del")))
		deal, ok := newDeal(htmlutil.Text(item.Find("div.title")), price, original)
		if ok {
			deals = append(deals, deal)
		}
	})
	return deals
}

// ParseDealListHTML parses the deal list of a search result page.
func ParseDealListHTML(body []byte) ([]Deal, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return parseDealList(doc), nil
}
