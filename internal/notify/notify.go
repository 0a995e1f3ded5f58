package notify

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
)

// TargetAlert is emitted when a pending entry's target price is reached.
// The tokens authorize exactly one open or one cancel of OrderID.
type TargetAlert struct {
	OrderID      string  `json:"order_id"`
	SignalID     string  `json:"signal_id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	EntryTier    string  `json:"entry_tier"`
	TargetPrice  float64 `json:"target_price"`
	CurrentPrice float64 `json:"current_price"`
	Margin       float64 `json:"margin"`
	OpenToken    string  `json:"open_token"`
	CancelToken  string  `json:"cancel_token"`
}

// Button is a one-tap action link.
type Button struct {
	Text string
	URL  string
}

// Message is a rendered notification.
type Message struct {
	Title   string
	Body    string
	Buttons []Button
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Dispatcher renders alerts and fans them out to every sender. A failing
// sender is logged and does not stop the others.
type Dispatcher struct {
	senders []Sender
	baseURL string
}

// NewDispatcher creates a dispatcher. baseURL is the public origin used to
// build redemption links.
func NewDispatcher(baseURL string, senders ...Sender) *Dispatcher {
	return &Dispatcher{senders: senders, baseURL: strings.TrimRight(baseURL, "/")}
}

// TargetReached delivers the alert with open/cancel links.
func (d *Dispatcher) TargetReached(ctx context.Context, a TargetAlert) error {
	msg := Message{
		Title: fmt.Sprintf("🎯 %s %s target reached", a.Symbol, a.Direction),
		Body: fmt.Sprintf("Tier: %s\nTarget: %s\nCurrent: %s\nMargin: %s USDT",
			a.EntryTier, fmtPrice(a.TargetPrice), fmtPrice(a.CurrentPrice), fmtPrice(a.Margin)),
	}
	// Watchlist-only targets have no order to act on.
	if a.OpenToken != "" {
		msg.Buttons = append(msg.Buttons, Button{Text: "✅ Open position", URL: d.redeemURL(a.OpenToken)})
	}
	if a.CancelToken != "" {
		msg.Buttons = append(msg.Buttons, Button{Text: "❌ Cancel order", URL: d.redeemURL(a.CancelToken)})
	}
	return d.dispatch(ctx, msg)
}

// Text delivers a plain informational message.
func (d *Dispatcher) Text(ctx context.Context, title, body string) error {
	return d.dispatch(ctx, Message{Title: title, Body: body})
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) error {
	var firstErr error
	for _, s := range d.senders {
		if err := s.Send(ctx, msg); err != nil {
			log.Printf("notify: %s send failed: %v", s.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) redeemURL(tok string) string {
	return d.baseURL + "/api/actions/redeem?token=" + url.QueryEscape(tok)
}

func fmtPrice(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// LogSender writes messages to the process log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Printf("📣 %s | %s", msg.Title, strings.ReplaceAll(msg.Body, "\n", " | "))
	for _, b := range msg.Buttons {
		log.Printf("   %s: %s", b.Text, b.URL)
	}
	return nil
}

func (LogSender) Name() string { return "log" }
