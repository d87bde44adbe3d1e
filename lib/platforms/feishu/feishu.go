package feishu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"groupsync/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/platforms/feishu")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const DefaultBaseUrl = "https://open.feishu.cn"

const (
	fieldName = "门店名称"
	fieldId   = "门店ID"
	fieldCity = "所在城市"
)

var ErrMissingCredentials = errors.New("feishu: app_id and app_secret are required")

type APIError struct {
	Code int64
	Msg  string
}

func (e APIError) Error() string {
	return fmt.Sprintf("feishu: api error %d: %s", e.Code, e.Msg)
}

type Options struct {
	BaseUrl   string `json:"base_url"`
	AppId     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	AppToken  string `json:"app_token"`
	TableId   string `json:"table_id"`
}

func (o Options) Validate() error {
	if o.AppId == "" || o.AppSecret == "" {
		return ErrMissingCredentials
	}
	if o.AppToken == "" || o.TableId == "" {
		return fmt.Errorf("feishu: app_token and table_id are required")
	}
	return nil
}

type Store struct {
	Name  string
	POIID string
	City  string
}

type Client struct {
	http *resty.Client
	opts Options

	mutex     sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(opts Options) (*Client, error) {
	err := opts.Validate()
	if err != nil {
		return nil, err
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}

	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetTimeout(time.Second*30).
		SetHeader("content-type", "application/json; charset=utf-8")
	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &Client{http: client, opts: opts}, nil
}

func checkCode(body []byte) error {
	code := gjson.GetBytes(body, "code")
	if !code.Exists() {
		return fmt.Errorf("feishu: malformed response: %s", string(body))
	}
	if code.Int() != 0 {
		return APIError{Code: code.Int(), Msg: gjson.GetBytes(body, "msg").String()}
	}
	return nil
}

// TenantToken returns a cached tenant access token, refreshing it a
// minute before it expires.
func (c *Client) TenantToken(ctx context.Context) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	ctx, span := tracer.Start(ctx, "TenantToken")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"app_id":     c.opts.AppId,
			"app_secret": c.opts.AppSecret,
		}).
		Post("/open-apis/auth/v3/tenant_access_token/internal/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request tenant token")
		return "", err
	}
	err = checkCode(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant token request rejected")
		return "", err
	}

	c.token = gjson.GetBytes(res.Body(), "tenant_access_token").String()
	expire := gjson.GetBytes(res.Body(), "expire").Int()
	if expire <= 0 {
		expire = 7200
	}
	c.expiresAt = time.Now().Add(time.Duration(expire)*time.Second - time.Minute)
	return c.token, nil
}

// fieldText flattens a bitable cell, which is either a list of rich text
// segments ([{"text": "..."}]), a plain string or a number.
func fieldText(field gjson.Result) string {
	if field.IsArray() {
		var builder strings.Builder
		for _, segment := range field.Array() {
			if segment.IsObject() {
				builder.WriteString(segment.Get("text").String())
				continue
			}
			builder.WriteString(segment.String())
		}
		return strings.TrimSpace(builder.String())
	}
	if field.IsObject() {
		return strings.TrimSpace(field.Get("text").String())
	}
	return strings.TrimSpace(field.String())
}

func parseRecords(body []byte) []Store {
	var stores []Store
	for _, item := range gjson.GetBytes(body, "data.items").Array() {
		fields := item.Get("fields")
		store := Store{
			Name:  fieldText(fields.Get(fieldName)),
			POIID: fieldText(fields.Get(fieldId)),
			City:  fieldText(fields.Get(fieldCity)),
		}
		if store.Name == "" || store.POIID == "" {
			continue
		}
		stores = append(stores, store)
	}
	return stores
}

// ListStores reads every record of the store table, following pagination.
func (c *Client) ListStores(ctx context.Context) ([]Store, error) {
	ctx, span := tracer.Start(ctx, "ListStores")
	defer span.End()

	token, err := c.TenantToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get tenant token")
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"/open-apis/bitable/v1/apps/%s/tables/%s/records/search",
		c.opts.AppToken, c.opts.TableId,
	)

	var stores []Store
	pageToken := ""
	for {
		req := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("page_size", "500").
			SetBody(map[string]any{
				"field_names": []string{fieldName, fieldId, fieldCity},
			})
		if pageToken != "" {
			req.SetQueryParam("page_token", pageToken)
		}

		res, err := req.Post(endpoint)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to search records")
			return nil, err
		}
		body := res.Body()
		err = checkCode(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record search rejected")
			return nil, err
		}

		stores = append(stores, parseRecords(body)...)

		pageToken = gjson.GetBytes(body, "data.page_token").String()
		if !gjson.GetBytes(body, "data.has_more").Bool() || pageToken == "" {
			break
		}
	}

	span.SetAttributes(attribute.Int("store_count", len(stores)))
	return stores, nil
}

type StoreIndex map[string]Store

func NewStoreIndex(stores []Store) StoreIndex {
	index := make(StoreIndex, len(stores))
	for _, s := range stores {
		index[s.Name] = s
	}
	return index
}

// Lookup finds a store by exact name, then by POI ID, then by a unique
// substring match on the name.
func (idx StoreIndex) Lookup(query string) (Store, bool) {
	if s, ok := idx[query]; ok {
		return s, true
	}
	var candidates []Store
	for _, s := range idx {
		if s.POIID == query {
			return s, true
		}
		if strings.Contains(s.Name, query) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return Store{}, false
}
