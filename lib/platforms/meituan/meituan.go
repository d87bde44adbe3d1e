package meituan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"groupsync/lib/configutil"
	"groupsync/lib/htmlutil"
	"groupsync/lib/money"
	"groupsync/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mozillazg/go-pinyin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/platforms/meituan")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const (
	DefaultSearchBaseUrl = "https://i.meituan.com"
	DefaultShelfBaseUrl  = "https://mapi.dianping.com"
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
)

var DefaultBrandPrefixes = []string{"竞潮玩"}

var (
	ErrBlocked       = errors.New("meituan: access blocked, the cookie probably needs refreshing")
	ErrStoreNotFound = errors.New("meituan: store not found")
	ErrShelfRejected = errors.New("meituan: deal shelf request rejected")
)

// Signature is a pre-generated pair of anti-bot headers for the deal
// shelf api.
type Signature struct {
	Mtgsig      string `json:"mtgsig"`
	PragmaToken string `json:"pragma_token"`
}

type Options struct {
	SearchBaseUrl string      `json:"search_base_url"`
	ShelfBaseUrl  string      `json:"shelf_base_url"`
	Cookie        string      `json:"cookie"`
	CookieFile    string      `json:"cookie_file"`
	UserAgent     string      `json:"user_agent"`
	BrandPrefixes []string    `json:"brand_prefixes"`
	Signatures    []Signature `json:"signatures"`
}

type Shop struct {
	ID          string
	EncryptedID string
	Name        string
	// deals listed on the search page itself, used when the shelf api
	// is unavailable
	PageDeals []Deal
}

type Deal struct {
	Title         string
	Price         money.Price
	OriginalPrice money.Price
}

type Client struct {
	search        *resty.Client
	shelf         *resty.Client
	signatures    []Signature
	next          atomic.Uint64
	brandPrefixes []string
}

func NewClient(opts Options) (*Client, error) {
	if opts.SearchBaseUrl == "" {
		opts.SearchBaseUrl = DefaultSearchBaseUrl
	}
	if opts.ShelfBaseUrl == "" {
		opts.ShelfBaseUrl = DefaultShelfBaseUrl
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.BrandPrefixes == nil {
		opts.BrandPrefixes = DefaultBrandPrefixes
	}
	cookie, err := configutil.ReadSecret(opts.Cookie, opts.CookieFile)
	if err != nil {
		return nil, fmt.Errorf("meituan: read cookie file: %w", err)
	}

	search := resty.New().
		SetBaseURL(opts.SearchBaseUrl).
		SetTimeout(time.Second*15).
		SetHeaders(map[string]string{
			"user-agent":      opts.UserAgent,
			"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"accept-language": "zh-CN,zh;q=0.9",
		})
	if cookie != "" {
		search.SetHeader("cookie", cookie)
	}
	search.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(search.GetClient().Transport)
	restyutil.InstrumentClient(search, tracer, restyInstrumentOutput)

	shelf := resty.New().
		SetBaseURL(opts.ShelfBaseUrl).
		SetTimeout(time.Second*10).
		SetHeaders(map[string]string{
			"user-agent": opts.UserAgent,
			"accept":     "application/json, text/plain, */*",
			"origin":     "https://g.meituan.com",
			"referer":    "https://g.meituan.com/",
		})
	restyutil.InstrumentClient(shelf, tracer, restyInstrumentOutput)

	return &Client{
		search:        search,
		shelf:         shelf,
		signatures:    opts.Signatures,
		brandPrefixes: opts.BrandPrefixes,
	}, nil
}

// NormalizeStoreName removes brand prefixes that the other platform does
// not use in its store names.
func NormalizeStoreName(name string, brandPrefixes []string) string {
	for _, prefix := range brandPrefixes {
		name = strings.ReplaceAll(name, prefix, "")
	}
	return strings.Join(strings.Fields(name), "")
}

// CitySlug converts a city name like "成都市" into the pinyin slug used
// in search urls ("chengdu"). Input that is already latin is lowercased.
func CitySlug(city string) string {
	city = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(city), "市"))
	args := pinyin.NewArgs()
	args.Fallback = func(r rune, a pinyin.Args) []string {
		if r < 128 {
			return []string{string(r)}
		}
		return nil
	}
	return strings.ToLower(strings.Join(pinyin.LazyPinyin(city, args), ""))
}

var poiHrefRegex = regexp.MustCompile(`/poi/(\d+)\?poiIdEncrypt=([a-zA-Z0-9]+)`)

// ParseSearchPage extracts the shop identity and the listed deals from a
// mobile search result page.
func ParseSearchPage(body []byte) (Shop, error) {
	if bytes.Contains(body, []byte("访问异常")) {
		return Shop{}, ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Shop{}, err
	}

	shop := Shop{Name: htmlutil.Text(doc.Find("span.poiname"))}
	href, _ := doc.Find(`p[data-com="redirect"]`).First().Attr("data-href")
	groups := poiHrefRegex.FindStringSubmatch(href)
	if len(groups) == 3 {
		shop.ID = groups[1]
		shop.EncryptedID = groups[2]
	}
	shop.PageDeals = parseDealList(doc)

	if shop.ID == "" && shop.Name == "" && len(shop.PageDeals) == 0 {
		return Shop{}, ErrStoreNotFound
	}
	return shop, nil
}

func (c *Client) SearchStore(ctx context.Context, city, name string) (Shop, error) {
	ctx, span := tracer.Start(ctx, "SearchStore")
	defer span.End()

	slug := CitySlug(city)
	query := NormalizeStoreName(name, c.brandPrefixes)
	span.SetAttributes(
		attribute.String("city", slug),
		attribute.String("query", query),
	)

	res, err := c.search.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/s/%s-%s", url.PathEscape(slug), url.PathEscape(query)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to search store")
		return Shop{}, err
	}
	if res.IsError() {
		err = fmt.Errorf("meituan: search returned status %d", res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "search returned error status")
		return Shop{}, err
	}

	shop, err := ParseSearchPage(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse search page")
		return Shop{}, err
	}
	slog.DebugContext(ctx, "found store", "query", query, "name", shop.Name, "shop_id", shop.ID)
	return shop, nil
}

func (c *Client) nextSignature() (Signature, bool) {
	if len(c.signatures) == 0 {
		return Signature{}, false
	}
	i := c.next.Add(1) - 1
	return c.signatures[i%uint64(len(c.signatures))], true
}

func (c *Client) fetchShelf(ctx context.Context, shop Shop, sig Signature) ([]Deal, error) {
	ctx, span := tracer.Start(ctx, "fetchShelf")
	defer span.End()

	res, err := c.shelf.R().
		SetContext(ctx).
		SetHeader("mtgsig", sig.Mtgsig).
		SetHeader("pragma-token", sig.PragmaToken).
		SetQueryParams(map[string]string{
			"shopid":        shop.ID,
			"shopidEncrypt": shop.EncryptedID,
			"platform":      "201",
			"sceneCode":     "mt_h5_default_deal_shelf",
			"pagesource":    "",
			"yodaReady":     "h5",
			"csecplatform":  "4",
			"csecversion":   "4.0.4",
		}).
		Get("/api/dzviewscene/productshelf/dzdealshelf")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch deal shelf")
		return nil, err
	}
	deals, err := ParseShelf(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse deal shelf")
		return nil, err
	}
	return deals, nil
}

// FetchDeals returns every deal of a shop. The signed shelf api is
// preferred, the deals from the search page are used when no signature
// is configured or the shelf request fails.
func (c *Client) FetchDeals(ctx context.Context, shop Shop) ([]Deal, error) {
	ctx, span := tracer.Start(ctx, "FetchDeals")
	defer span.End()
	span.SetAttributes(attribute.String("shop_id", shop.ID))

	sig, ok := c.nextSignature()
	switch {
	case !ok:
		slog.DebugContext(ctx, "no shelf signature configured, using search page deals", "shop", shop.Name)
	case shop.ID == "" || shop.EncryptedID == "":
		slog.WarnContext(ctx, "missing encrypted shop id, using search page deals", "shop", shop.Name)
	default:
		deals, err := c.fetchShelf(ctx, shop, sig)
		if err == nil && len(deals) > 0 {
			span.SetAttributes(attribute.String("source", "shelf"))
			return deals, nil
		}
		slog.WarnContext(ctx, "deal shelf unavailable, using search page deals", "shop", shop.Name, "err", err)
	}

	span.SetAttributes(attribute.String("source", "page"))
	if len(shop.PageDeals) == 0 {
		span.SetStatus(codes.Error, "no deals found")
		return nil, fmt.Errorf("%w: no deals listed for %s", ErrStoreNotFound, shop.Name)
	}
	return shop.PageDeals, nil
}

// Deals searches for a store and fetches its deals.
func (c *Client) Deals(ctx context.Context, city, name string) (Shop, []Deal, error) {
	shop, err := c.SearchStore(ctx, city, name)
	if err != nil {
		return Shop{}, nil, err
	}
	deals, err := c.FetchDeals(ctx, shop)
	return shop, deals, err
}
