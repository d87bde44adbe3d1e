package douyinweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"groupsync/lib/configutil"
	"groupsync/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/platforms/douyinweb")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const (
	DefaultBaseUrl = "https://life.douyin.com"
	// products created through the web api land on this poi set until
	// they are patched onto the real store
	DefaultPlaceholderPoiSetId = "7585041807923316776"
	defaultUserAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36 Edg/141.0.0.0"
)

var (
	ErrNotLoggedIn     = errors.New("douyinweb: cookie and csrf token are required")
	ErrNoProductId     = errors.New("douyinweb: save succeeded without a product id")
	ErrInvalidTemplate = errors.New("douyinweb: template product is missing required fields")
)

type APIError struct {
	Code int64
	Msg  string
}

func (e APIError) Error() string {
	return fmt.Sprintf("douyinweb: status %d: %s", e.Code, e.Msg)
}

type Options struct {
	BaseUrl             string `json:"base_url"`
	Cookie              string `json:"cookie"`
	CookieFile          string `json:"cookie_file"`
	CsrfToken           string `json:"csrf_token"`
	RootLifeAccountId   string `json:"root_life_account_id"`
	PlaceholderPoiSetId string `json:"placeholder_poi_set_id"`
	UserAgent           string `json:"user_agent"`
}

func (o Options) Validate() error {
	if (o.Cookie == "" && o.CookieFile == "") || o.CsrfToken == "" {
		return ErrNotLoggedIn
	}
	if o.RootLifeAccountId == "" {
		return fmt.Errorf("douyinweb: root_life_account_id is required")
	}
	return nil
}

type Client struct {
	http *resty.Client
	opts Options
}

func NewClient(opts Options) (*Client, error) {
	cookie, err := configutil.ReadSecret(opts.Cookie, opts.CookieFile)
	if err != nil {
		return nil, fmt.Errorf("douyinweb: read cookie file: %w", err)
	}
	err = opts.Validate()
	if err != nil {
		return nil, err
	}
	if cookie == "" {
		return nil, ErrNotLoggedIn
	}
	opts.Cookie = cookie
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.PlaceholderPoiSetId == "" {
		opts.PlaceholderPoiSetId = DefaultPlaceholderPoiSetId
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetTimeout(time.Second*20).
		SetHeaders(map[string]string{
			"accept":              "application/json, text/plain, */*",
			"content-type":        "application/json;charset=UTF-8",
			"cookie":              opts.Cookie,
			"origin":              DefaultBaseUrl,
			"referer":             DefaultBaseUrl + "/p/product/create",
			"user-agent":          opts.UserAgent,
			"x-secsdk-csrf-token": opts.CsrfToken,
		})
	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{http: client, opts: opts}, nil
}

func (c *Client) PlaceholderPoiSetId() string {
	return c.opts.PlaceholderPoiSetId
}

func checkStatus(body []byte) error {
	status := gjson.GetBytes(body, "status_code")
	if !status.Exists() {
		// the web api answers with an html login page when the cookie expired
		if strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("douyinweb: malformed response")
	}
	if status.Int() != 0 {
		return APIError{Code: status.Int(), Msg: gjson.GetBytes(body, "status_msg").String()}
	}
	return nil
}

func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	err := dec.Decode(&out)
	return out, err
}

// GetTemplate fetches the editable product document of an existing
// product, used as the basis for new products.
func (c *Client) GetTemplate(ctx context.Context, productId string) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "GetTemplate")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productId))

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"product_type":         "1",
			"category_id":          "4007001",
			"scene":                "2",
			"product_id":           productId,
			"list_tab":             "9",
			"source":               "1",
			"is_lite_req":          "false",
			"root_life_account_id": c.opts.RootLifeAccountId,
		}).
		Get("/life/tobias/product/get/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch template")
		return nil, err
	}
	err = checkStatus(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "template fetch rejected")
		return nil, err
	}

	raw := gjson.GetBytes(res.Body(), "product_detail")
	if !raw.IsObject() {
		span.SetStatus(codes.Error, "response has no product_detail")
		return nil, ErrInvalidTemplate
	}
	template, err := decodeObject(raw.Raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode template")
		return nil, err
	}
	return template, nil
}

// Save submits a payload built by BuildFromTemplate and returns the id
// of the created product.
func (c *Client) Save(ctx context.Context, payload map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("root_life_account_id", c.opts.RootLifeAccountId).
		SetBody(payload).
		Post("/life/tobias/product/save/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save product")
		return "", err
	}
	body := res.Body()
	err = checkStatus(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product save rejected")
		return "", err
	}

	productId := gjson.GetBytes(body, "product_id").String()
	if productId == "" || productId == "0" {
		productId = gjson.GetBytes(body, "product.product_id").String()
	}
	if productId == "" || productId == "0" {
		span.SetStatus(codes.Error, "no product id in response")
		return "", ErrNoProductId
	}

	span.SetAttributes(attribute.String("product_id", productId))
	return productId, nil
}
