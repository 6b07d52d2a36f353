package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/threadbot/pkg/threadbot/channels"
)

const testToken = "123:abc"

// fakeBotAPI is a minimal Bot API server.
type fakeBotAPI struct {
	mu       sync.Mutex
	sent     []map[string]any
	uploads  []string
	updates  []string
	served   bool
	parseErr bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()

		switch method {
		case "getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"username":"threadbot"}}`)
		case "getUpdates":
			if f.served {
				f.mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				f.mu.Lock()
				fmt.Fprint(w, `{"ok":true,"result":[]}`)
				return
			}
			f.served = true
			fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, strings.Join(f.updates, ","))
		case "getFile":
			fmt.Fprint(w, `{"ok":true,"result":{"file_id":"f1","file_path":"voice/file_7.oga"}}`)
		case "sendMessage":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			if f.parseErr && payload["parse_mode"] != nil {
				fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unclosed tag"}`)
				return
			}
			f.sent = append(f.sent, payload)
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":10}}`)
		case "sendPhoto", "sendDocument":
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				require.NoError(t, r.ParseMultipartForm(1<<20))
				file, hdr, err := r.FormFile(map[string]string{"sendPhoto": "photo", "sendDocument": "document"}[method])
				require.NoError(t, err)
				data, _ := io.ReadAll(file)
				f.uploads = append(f.uploads, method+":"+hdr.Filename+":"+string(data))
			} else {
				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				f.sent = append(f.sent, payload)
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":11}}`)
		default:
			fmt.Fprintf(w, `{"ok":false,"description":"unknown method %s"}`, method)
		}
	}
}

func startTelegram(t *testing.T, api *fakeBotAPI, cfg Config) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg.Token = testToken
	cfg.APIBaseURL = srv.URL
	cfg.PollTimeout = 1
	tg := New(cfg, nil)
	require.NoError(t, tg.Connect(context.Background()))
	t.Cleanup(func() { _ = tg.Disconnect() })
	return tg
}

func receive(t *testing.T, tg *Telegram) *channels.IncomingMessage {
	t.Helper()
	select {
	case msg := <-tg.Receive():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestTelegram_ConnectRequiresToken(t *testing.T) {
	tg := New(Config{}, nil)
	require.Error(t, tg.Connect(context.Background()))
	assert.False(t, tg.IsConnected())
}

func TestTelegram_ReceivesTextWithUsername(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":5,"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"from":{"id":7,"first_name":"Alice","username":"alice"},"text":"hello"}}`,
	}}
	tg := startTelegram(t, api, DefaultConfig())

	msg := receive(t, tg)
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "Alice", msg.FromName)
	assert.Equal(t, channels.MessageText, msg.Type)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, tg.Health().Connected)
}

func TestTelegram_PicksLargestPhoto(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":1,"message":{"message_id":2,"date":1,"chat":{"id":42,"type":"private"},"from":{"id":7,"username":"alice"},"caption":"look","photo":[
			{"file_id":"medium","width":320,"height":240},
			{"file_id":"large","width":1280,"height":960},
			{"file_id":"small","width":90,"height":67}]}}`,
	}}
	tg := startTelegram(t, api, DefaultConfig())

	msg := receive(t, tg)
	assert.Equal(t, channels.MessageImage, msg.Type)
	assert.Equal(t, "look", msg.Content)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "large", msg.Media.FileID)
}

func TestTelegram_SkipsGroupsWhenDisabled(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":1,"message":{"message_id":1,"date":1,"chat":{"id":-100,"type":"supergroup"},"from":{"id":7,"username":"alice"},"text":"in group"}}`,
		`{"update_id":2,"message":{"message_id":2,"date":1,"chat":{"id":42,"type":"private"},"from":{"id":7,"username":"alice"},"text":"direct"}}`,
	}}
	cfg := DefaultConfig()
	cfg.RespondToGroups = false
	tg := startTelegram(t, api, cfg)

	msg := receive(t, tg)
	assert.Equal(t, "direct", msg.Content)
}

func TestTelegram_MediaURL(t *testing.T) {
	api := &fakeBotAPI{}
	tg := startTelegram(t, api, DefaultConfig())

	url, err := tg.MediaURL(context.Background(), &channels.IncomingMessage{
		Media: &channels.MediaInfo{Type: channels.MessageAudio, FileID: "f1"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/file/bot"+testToken+"/voice/file_7.oga"), url)

	_, err = tg.MediaURL(context.Background(), &channels.IncomingMessage{})
	assert.ErrorIs(t, err, channels.ErrMediaUnavailable)
}

func TestTelegram_SendUsesParseMode(t *testing.T) {
	api := &fakeBotAPI{}
	tg := startTelegram(t, api, DefaultConfig())

	require.NoError(t, tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "*hi*"}))
	require.NoError(t, tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "No access", ParseMode: ParseModeNone}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 2)
	assert.Equal(t, "Markdown", api.sent[0]["parse_mode"])
	assert.Equal(t, float64(42), api.sent[0]["chat_id"])
	_, hasMode := api.sent[1]["parse_mode"]
	assert.False(t, hasMode)
}

func TestTelegram_SendFallsBackToPlainText(t *testing.T) {
	api := &fakeBotAPI{parseErr: true}
	tg := startTelegram(t, api, DefaultConfig())

	require.NoError(t, tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "a_b*c"}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, "a_b*c", api.sent[0]["text"])
}

func TestTelegram_SendSplitsLongText(t *testing.T) {
	api := &fakeBotAPI{}
	tg := startTelegram(t, api, DefaultConfig())

	long := strings.Repeat("x", MaxMessageLength+10)
	require.NoError(t, tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: long}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 2)
	assert.Len(t, api.sent[0]["text"], MaxMessageLength)
	assert.Len(t, api.sent[1]["text"], 10)
}

func TestTelegram_SendRejectsBadChatID(t *testing.T) {
	tg := startTelegram(t, &fakeBotAPI{}, DefaultConfig())
	require.Error(t, tg.Send(context.Background(), "not-a-number", &channels.OutgoingMessage{Content: "x"}))
}

func TestTelegram_SendWhenDisconnected(t *testing.T) {
	tg := New(Config{Token: testToken}, nil)
	err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "x"})
	assert.ErrorIs(t, err, channels.ErrChannelDisconnected)
}

func TestTelegram_SendMedia(t *testing.T) {
	api := &fakeBotAPI{}
	tg := startTelegram(t, api, DefaultConfig())

	require.NoError(t, tg.SendMedia(context.Background(), "42", &channels.MediaMessage{
		Type: channels.MessageImage,
		URL:  "https://img/cat.png",
	}))
	require.NoError(t, tg.SendMedia(context.Background(), "42", &channels.MediaMessage{
		Type:     channels.MessageImage,
		Data:     []byte("png"),
		Filename: "file_img.png",
	}))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 1)
	assert.Equal(t, "https://img/cat.png", api.sent[0]["photo"])
	assert.Equal(t, []string{"sendPhoto:file_img.png:png"}, api.uploads)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	chunks := SplitMessage("line one\nline two\nline three", 12)
	assert.Equal(t, []string{"line one\n", "line two\n", "line three"}, chunks)

	multi := strings.Repeat("é", 25)
	chunks = SplitMessage(multi, 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, multi, strings.Join(chunks, ""))
}

func TestSplitMessage_CountsUTF16Units(t *testing.T) {
	// Each emoji is one rune but two UTF-16 code units.
	text := strings.Repeat("😀", 3000)
	chunks := SplitMessage(text, MaxMessageLength)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(utf16.Encode([]rune(c))), MaxMessageLength)
	}
	assert.Len(t, utf16.Encode([]rune(chunks[0])), MaxMessageLength)
	assert.Equal(t, text, strings.Join(chunks, ""))

	// A pair never fits a limit of one unit, but splitting still advances.
	assert.Equal(t, []string{"😀", "😀"}, SplitMessage("😀😀", 1))
}

func TestLargestPhoto(t *testing.T) {
	got := largestPhoto([]tgPhoto{
		{FileID: "a", Width: 100, Height: 100},
		{FileID: "b", Width: 50, Height: 400},
		{FileID: "c", Width: 10, Height: 10},
	})
	assert.Equal(t, "b", got.FileID)
}
