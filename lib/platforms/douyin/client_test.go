package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"groupsync/lib/money"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const detailTemplate = `{
	"product": {
		"product_id": %s,
		"product_name": "%s",
		"attr_key_value_map": {"show_channel": "%s"},
		"extra": "{\"poi_set_id\":\"111\"}"
	},
	"skus": [{"actual_amount": 1990, "origin_amount": 5000}]
}`

type fakeOpenApi struct {
	t          *testing.T
	mutex      sync.Mutex
	tokenCalls int
	getCalls   map[string]int
	saved      []map[string]any
	operated   []map[string]any
	failGet    map[string]bool
	hidden     map[string]bool
}

func (f *fakeOpenApi) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/client_token/", func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		f.tokenCalls++
		f.mutex.Unlock()
		var body map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(f.t, "client_credential", body["grant_type"])
		w.Write([]byte(`{"data":{"error_code":0,"access_token":"tok","expires_in":7200}}`))
	})
	mux.HandleFunc("/goodlife/v1/goods/product/online/query/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(f.t, "tok", r.Header.Get("access-token"))
		require.Equal(f.t, "[7001]", r.URL.Query().Get("poi_ids"))
		require.Equal(f.t, "acc", r.URL.Query().Get("account_id"))

		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"data":{"error_code":0,"has_more":true,"next_cursor":"2","products":[
				{"product":{"product_id":"7300000000000000001","product_name":"【新客】19.9得50网费"},"sku":{"actual_amount":1990,"origin_amount":5000}},
				{"product":{"product_id":"7300000000000000002"}}
			]}}`))
			return
		}
		w.Write([]byte(`{"data":{"error_code":0,"has_more":false,"products":[
			{"product":{"product_id":"7300000000000000003","product_name":"5小时包时"},"sku":{"actual_amount":3990,"origin_amount":11970}}
		]}}`))
	})
	mux.HandleFunc("/goodlife/v1/goods/product/online/get/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("product_ids")
		f.mutex.Lock()
		f.getCalls[id]++
		fail := f.failGet[id]
		channel := "1"
		if f.hidden[id] {
			channel = "2"
		}
		f.mutex.Unlock()

		if fail {
			w.Write([]byte(`{"data":{"error_code":2100004,"description":"product not found"}}`))
			return
		}
		fmt.Fprintf(w, `{"data":{"error_code":0,"product_onlines":[`+detailTemplate+`]}}`, id, "name-"+id, channel)
	})
	mux.HandleFunc("/goodlife/v1/goods/product/save/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mutex.Lock()
		f.saved = append(f.saved, body)
		f.mutex.Unlock()
		w.Write([]byte(`{"data":{"error_code":0,"product_id":"7300000000000000009"}}`))
	})
	mux.HandleFunc("/goodlife/v1/goods/product/operate/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mutex.Lock()
		f.operated = append(f.operated, body)
		f.mutex.Unlock()
		if body["product_id"] == "bad" {
			w.Write([]byte(`{"data":{"error_code":1,"description":"商品审核中"}}`))
			return
		}
		w.Write([]byte(`{"data":{"error_code":0}}`))
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeOpenApi) {
	fake := &fakeOpenApi{
		t:        t,
		getCalls: map[string]int{},
		failGet:  map[string]bool{},
		hidden:   map[string]bool{},
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		BaseUrl:      server.URL,
		ClientKey:    "key",
		ClientSecret: "secret",
		AccountId:    "acc",
	})
	require.NoError(t, err)
	return client, fake
}

func TestQueryOnline(t *testing.T) {
	client, fake := newTestClient(t)

	products, err := client.QueryOnline(context.Background(), "7001")
	require.NoError(t, err)

	expected := []Product{
		{ID: "7300000000000000001", Name: "【新客】19.9得50网费", Price: money.FromCents(1990), OriginPrice: money.FromCents(5000)},
		{ID: "7300000000000000003", Name: "5小时包时", Price: money.FromCents(3990), OriginPrice: money.FromCents(11970)},
	}
	diff := cmp.Diff(expected, products, cmp.Comparer(func(a, b money.Price) bool {
		return a.Cmp(b) == 0
	}))
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, 1, fake.tokenCalls)
}

func TestGetKeepsLargeIdsAndCaches(t *testing.T) {
	client, fake := newTestClient(t)

	detail, err := client.Get(context.Background(), "7300000000000000001")
	require.NoError(t, err)
	require.Equal(t, "7300000000000000001", stringField(detail.Product(), "product_id"))

	// mutating the returned copy must not leak into the cache
	detail.Product()["product_name"] = "changed"

	again, err := client.Get(context.Background(), "7300000000000000001")
	require.NoError(t, err)
	require.Equal(t, "name-7300000000000000001", stringField(again.Product(), "product_name"))
	require.Equal(t, 1, fake.getCalls["7300000000000000001"])

	fake.failGet["missing"] = true
	_, err = client.Get(context.Background(), "missing")
	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "product not found", apiErr.Description)
}

func TestGetSkipsCacheUntilApproved(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	fake.failGet["7300000000000000009"] = true
	_, err := client.Get(ctx, "7300000000000000009")
	require.Error(t, err)

	fake.mutex.Lock()
	fake.failGet["7300000000000000009"] = false
	fake.mutex.Unlock()
	detail, err := client.Get(ctx, "7300000000000000009")
	require.NoError(t, err)
	require.Equal(t, "name-7300000000000000009", stringField(detail.Product(), "product_name"))
	require.Equal(t, 2, fake.getCalls["7300000000000000009"])
}

func TestOperateInvalidatesCache(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "7300000000000000001")
	require.NoError(t, err)
	require.NoError(t, client.Operate(ctx, "7300000000000000001", OpOnline))
	_, err = client.Get(ctx, "7300000000000000001")
	require.NoError(t, err)
	require.Equal(t, 2, fake.getCalls["7300000000000000001"])
}

func TestSaveInvalidatesCache(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	detail, err := client.Get(ctx, "7300000000000000001")
	require.NoError(t, err)

	save, err := BuildUpdate("acc", detail, Edit{Title: "新标题", Price: money.New(29.9)}, "")
	require.NoError(t, err)
	id, err := client.Save(ctx, save)
	require.NoError(t, err)
	require.Equal(t, "7300000000000000009", id)

	require.Len(t, fake.saved, 1)
	require.Equal(t, "acc", fake.saved[0]["account_id"])
	require.Equal(t, []any{"111"}, fake.saved[0]["poi_ids"])

	_, err = client.Get(ctx, "7300000000000000001")
	require.NoError(t, err)
	require.Equal(t, 2, fake.getCalls["7300000000000000001"])
}

func TestOperate(t *testing.T) {
	client, fake := newTestClient(t)

	require.NoError(t, client.Operate(context.Background(), "7300000000000000001", OpOffline))
	require.Equal(t, float64(2), fake.operated[0]["op_type"])

	err := client.Operate(context.Background(), "bad", OpOnline)
	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "商品审核中", apiErr.Description)
}

func TestTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"error_code":10003,"description":"invalid client_key"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseUrl: server.URL, ClientKey: "a", ClientSecret: "b", AccountId: "c"})
	require.NoError(t, err)
	_, err = client.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenRequest)
	require.True(t, strings.Contains(err.Error(), "invalid client_key"))
}

func TestFilterLive(t *testing.T) {
	client, fake := newTestClient(t)
	fake.hidden["2"] = true
	fake.failGet["3"] = true

	products := []Product{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	live := client.FilterLive(context.Background(), products)

	ids := make([]string, len(live))
	for i, p := range live {
		ids[i] = p.ID
	}
	require.Equal(t, []string{"1", "3", "4"}, ids)
}

func TestOptionsValidate(t *testing.T) {
	require.ErrorIs(t, Options{ClientKey: "a"}.Validate(), ErrMissingCredentials)
	require.NoError(t, Options{ClientKey: "a", ClientSecret: "b", AccountId: "c"}.Validate())
}
