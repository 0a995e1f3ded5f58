package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type captureSender struct {
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, m Message) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func TestTargetReachedBuildsRedeemLinks(t *testing.T) {
	failing := &captureSender{err: errors.New("down")}
	ok := &captureSender{}
	d := NewDispatcher("https://bot.example.com/", failing, ok)

	err := d.TargetReached(context.Background(), TargetAlert{
		OrderID: "o1", Symbol: "BTC-USDT", Direction: "LONG", EntryTier: "ENTRY_2",
		TargetPrice: 49000, CurrentPrice: 48990.5, Margin: 10,
		OpenToken: "abc.def", CancelToken: "ghi.jkl",
	})
	if err == nil {
		t.Fatal("expected first sender error to be returned")
	}
	if len(ok.msgs) != 1 {
		t.Fatal("a failing sender must not block later senders")
	}
	msg := ok.msgs[0]
	if len(msg.Buttons) != 2 {
		t.Fatalf("expected two buttons, got %+v", msg.Buttons)
	}
	if msg.Buttons[0].URL != "https://bot.example.com/api/actions/redeem?token=abc.def" {
		t.Fatalf("unexpected open url %s", msg.Buttons[0].URL)
	}
	if !strings.Contains(msg.Body, "48990.5") || !strings.Contains(msg.Body, "Target: 49000") {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

func TestTelegramSenderPostsInlineKeyboard(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), Message{Title: "t", Body: "b", Buttons: []Button{{Text: "go", URL: "https://x"}}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" {
		t.Fatalf("unexpected payload %+v", got)
	}
	markup, ok := got["reply_markup"].(map[string]any)
	if !ok || len(markup["inline_keyboard"].([]any)) != 1 {
		t.Fatalf("missing inline keyboard: %+v", got)
	}
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	msg := Message{Title: "🎯 BTC-USDT LONG target reached", Body: "Tier: ENTRY_2\nnote: a<b & c>d *x*"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["parse_mode"] != "HTML" {
		t.Fatalf("unexpected parse_mode %v", got["parse_mode"])
	}
	want := "<b>🎯 BTC-USDT LONG target reached</b>\nTier: ENTRY_2\nnote: a&lt;b &amp; c&gt;d *x*"
	if got["text"] != want {
		t.Fatalf("unexpected text:\n got %q\nwant %q", got["text"], want)
	}
}

func TestTelegramSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), Message{Title: "t"}); err == nil {
		t.Fatal("expected error on 400")
	}
}

func TestTargetReachedWithoutTokensHasNoButtons(t *testing.T) {
	c := &captureSender{}
	d := NewDispatcher("https://bot.example.com", c)
	if err := d.TargetReached(context.Background(), TargetAlert{Symbol: "ETH-USDT", Direction: "SHORT", TargetPrice: 3000}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(c.msgs) != 1 || len(c.msgs[0].Buttons) != 0 {
		t.Fatalf("expected a plain alert, got %+v", c.msgs)
	}
}
