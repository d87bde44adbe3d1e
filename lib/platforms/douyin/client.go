package douyin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"groupsync/lib/money"
	"groupsync/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/platforms/douyin")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const DefaultBaseUrl = "https://open.douyin.com"

var (
	ErrMissingCredentials = errors.New("douyin: client_key, client_secret and account_id are required")
	ErrTokenRequest       = errors.New("douyin: client token request failed")
	ErrProductNotFound    = errors.New("douyin: product not found")
)

// APIError is returned when the open api responds with a non-zero
// data.error_code.
type APIError struct {
	Code        int64
	Description string
}

func (e APIError) Error() string {
	return fmt.Sprintf("douyin: api error %d: %s", e.Code, e.Description)
}

type OpType int

const (
	OpOnline  OpType = 1
	OpOffline OpType = 2
)

func (o OpType) String() string {
	switch o {
	case OpOnline:
		return "online"
	case OpOffline:
		return "offline"
	}
	return strconv.Itoa(int(o))
}

type Options struct {
	BaseUrl      string `json:"base_url"`
	ClientKey    string `json:"client_key"`
	ClientSecret string `json:"client_secret"`
	AccountId    string `json:"account_id"`
	// how long fetched product details stay cached, defaults to 10 minutes
	DetailTTLSeconds int `json:"detail_ttl_seconds"`
}

func (o Options) Validate() error {
	if o.ClientKey == "" || o.ClientSecret == "" || o.AccountId == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Product is a listing as returned by the online query.
type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Price       money.Price `json:"price"`
	OriginPrice money.Price `json:"origin_price"`
}

type Client struct {
	http      *resty.Client
	opts      Options
	tokens    *expirable.LRU[string, string]
	details   *expirable.LRU[string, Detail]
	workers   int
	pageLimit int
}

func NewClient(opts Options) (*Client, error) {
	err := opts.Validate()
	if err != nil {
		return nil, err
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	detailTTL := time.Minute * 10
	if opts.DetailTTLSeconds > 0 {
		detailTTL = time.Duration(opts.DetailTTLSeconds) * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetTimeout(time.Second*20).
		SetHeader("content-type", "application/json")
	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{
		http: client,
		opts: opts,
		// client tokens live for 2 hours
		tokens:    expirable.NewLRU[string, string](4, nil, time.Minute*110),
		details:   expirable.NewLRU[string, Detail](1024, nil, detailTTL),
		workers:   5,
		pageLimit: 20,
	}, nil
}

func (c *Client) AccountId() string {
	return c.opts.AccountId
}

func dataError(body []byte) error {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return fmt.Errorf("douyin: malformed response: %s", string(body))
	}
	code := data.Get("error_code").Int()
	if code != 0 {
		return APIError{Code: code, Description: data.Get("description").String()}
	}
	return nil
}

func (c *Client) Token(ctx context.Context) (string, error) {
	token, ok := c.tokens.Get(c.opts.ClientKey)
	if ok {
		return token, nil
	}

	ctx, span := tracer.Start(ctx, "Token")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type":    "client_credential",
			"client_key":    c.opts.ClientKey,
			"client_secret": c.opts.ClientSecret,
		}).
		Post("/oauth/client_token/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request client token")
		return "", err
	}
	err = dataError(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client token request rejected")
		return "", errors.Join(ErrTokenRequest, err)
	}

	token = gjson.GetBytes(res.Body(), "data.access_token").String()
	if token == "" {
		span.SetStatus(codes.Error, "empty access token")
		return "", ErrTokenRequest
	}
	c.tokens.Add(c.opts.ClientKey, token)
	return token, nil
}

func (c *Client) authed(ctx context.Context) (*resty.Request, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("access-token", token), nil
}

func parseProducts(body []byte) []Product {
	var products []Product
	for _, entry := range gjson.GetBytes(body, "data.products").Array() {
		product := entry.Get("product")
		sku := entry.Get("sku")
		if !product.Exists() || !sku.Exists() {
			continue
		}
		products = append(products, Product{
			ID:          product.Get("product_id").String(),
			Name:        product.Get("product_name").String(),
			Price:       money.FromCents(sku.Get("actual_amount").Int()),
			OriginPrice: money.FromCents(sku.Get("origin_amount").Int()),
		})
	}
	return products
}

// QueryOnline lists the online products attached to a POI.
func (c *Client) QueryOnline(ctx context.Context, poiId string) ([]Product, error) {
	ctx, span := tracer.Start(ctx, "QueryOnline")
	defer span.End()
	span.SetAttributes(attribute.String("poi_id", poiId))

	var products []Product
	cursor := ""
	for page := 0; page < c.pageLimit; page++ {
		req, err := c.authed(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get access token")
			return nil, err
		}
		req.SetQueryParams(map[string]string{
			"account_id": c.opts.AccountId,
			"poi_ids":    fmt.Sprintf("[%s]", poiId),
			"count":      "50",
			"status":     "1",
		})
		if cursor != "" {
			req.SetQueryParam("cursor", cursor)
		}

		res, err := req.Get("/goodlife/v1/goods/product/online/query/")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to query online products")
			return nil, err
		}
		body := res.Body()
		err = dataError(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "online product query rejected")
			return nil, err
		}

		products = append(products, parseProducts(body)...)

		next := gjson.GetBytes(body, "data.next_cursor").String()
		if !gjson.GetBytes(body, "data.has_more").Bool() || next == "" || next == cursor {
			break
		}
		cursor = next
	}

	span.SetAttributes(attribute.Int("product_count", len(products)))
	return products, nil
}

func decodeDetail(raw string) (Detail, error) {
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	// product ids exceed float64 precision
	dec.UseNumber()
	var detail Detail
	err := dec.Decode(&detail)
	return detail, err
}

// Get fetches the full online document of a product. Results are cached,
// the returned Detail is a private copy the caller may mutate.
func (c *Client) Get(ctx context.Context, productId string) (Detail, error) {
	cached, ok := c.details.Get(productId)
	if ok {
		return cached.Clone()
	}

	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productId))

	req, err := c.authed(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get access token")
		return nil, err
	}
	res, err := req.
		SetQueryParam("account_id", c.opts.AccountId).
		SetQueryParam("product_ids", productId).
		Get("/goodlife/v1/goods/product/online/get/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get product")
		return nil, err
	}
	err = dataError(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product get rejected")
		return nil, err
	}

	first := gjson.GetBytes(res.Body(), "data.product_onlines.0")
	if !first.Exists() {
		return nil, ErrProductNotFound
	}
	detail, err := decodeDetail(first.Raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode product detail")
		return nil, err
	}

	c.details.Add(productId, detail)
	return detail.Clone()
}

// SaveRequest is the body of the product save endpoint.
type SaveRequest struct {
	AccountId      string         `json:"account_id"`
	Product        map[string]any `json:"product"`
	Sku            map[string]any `json:"sku"`
	PoiIds         []string       `json:"poi_ids"`
	SupplierExtIds []string       `json:"supplier_ext_ids"`
}

// Save creates or updates a product, returning the product id reported
// by the api (which may be empty for updates).
func (c *Client) Save(ctx context.Context, save SaveRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	if save.AccountId == "" {
		save.AccountId = c.opts.AccountId
	}
	productId := stringField(save.Product, "product_id")
	span.SetAttributes(attribute.String("product_id", productId))

	req, err := c.authed(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get access token")
		return "", err
	}
	res, err := req.SetBody(save).Post("/goodlife/v1/goods/product/save/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save product")
		return "", err
	}
	err = dataError(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product save rejected")
		return "", err
	}

	if productId != "" {
		c.details.Remove(productId)
	}
	returned := gjson.GetBytes(res.Body(), "data.product_id").String()
	if returned == "" {
		returned = productId
	}
	return returned, nil
}

// Operate puts a product online or takes it offline.
func (c *Client) Operate(ctx context.Context, productId string, op OpType) error {
	ctx, span := tracer.Start(ctx, "Operate")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", productId),
		attribute.String("op", op.String()),
	)

	req, err := c.authed(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get access token")
		return err
	}
	res, err := req.
		SetBody(map[string]any{
			"account_id": c.opts.AccountId,
			"product_id": productId,
			"op_type":    int(op),
		}).
		Post("/goodlife/v1/goods/product/operate/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to operate product")
		return err
	}
	err = dataError(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product operation rejected")
		return err
	}

	c.details.Remove(productId)
	return nil
}
