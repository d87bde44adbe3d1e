package restyutil

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func TestRedact(t *testing.T) {
	require.Equal(t, "abc...<redacted>", redact("Access-Token", "abcdefghijk"))
	require.Equal(t, "<redacted>", redact("cookie", "a=b"))
	require.Equal(t, "application/json", redact("Content-Type", "application/json"))
}

func TestFormatHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-B", "2")
	headers.Set("X-A", "1")
	headers.Set("Cookie", "sessionid=123456789")
	require.Equal(t, "Cookie: ses...<redacted>\nX-A: 1\nX-B: 2", formatHeaders(headers))
}

func TestInstrumentClientDumps(t *testing.T) {
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(previous)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	out := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, nil, out)

	_, err := client.R().
		SetHeader("access-token", "supersecrettoken").
		SetBody(map[string]string{"hello": "world"}).
		Post("/echo")
	require.NoError(t, err)

	require.Len(t, out.messages, 1)
	message := out.messages["1"]
	require.Contains(t, message, "POST")
	require.Contains(t, message, `{"ok":true}`)
	require.Contains(t, message, "hello")
	require.False(t, strings.Contains(message, "supersecrettoken"))
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	out, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	out.Write("7", "contents")
	contents, err := os.ReadFile(filepath.Join(dir, "7.txt"))
	require.NoError(t, err)
	require.Equal(t, "contents", string(contents))
}
