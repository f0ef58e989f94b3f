package mail

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"netnetWatch/internal/model"
	"netnetWatch/internal/notify"
)

func sample() notify.Notification {
	return notify.Notification{
		Title:        "💎 <AAPL> 已達殘值！",
		Body:         "當前價格 $185.00 已跌至殘值 $189.52",
		Tag:          "netnet-AAPL",
		Symbol:       "AAPL",
		Market:       model.MarketUS,
		Price:        185,
		ValuationLow: 189.52,
	}
}

func TestPermission(t *testing.T) {
	if got := NewNotifier(nil).Permission(); got != notify.PermissionDenied {
		t.Errorf("nil cfg = %s", got)
	}
	if got := NewNotifier(&SMTPConfig{Server: "smtp.qq.com"}).Permission(); got != notify.PermissionDenied {
		t.Errorf("partial cfg = %s", got)
	}
	cfg := &SMTPConfig{Server: "smtp.qq.com", From: "a@qq.com", To: "b@qq.com"}
	if got := NewNotifier(cfg).Permission(); got != notify.PermissionGranted {
		t.Errorf("full cfg = %s", got)
	}
}

func TestNotifySends(t *testing.T) {
	cfg := &SMTPConfig{Server: "smtp.qq.com", From: "a@qq.com", To: " b@qq.com, ,c@qq.com "}
	n := NewNotifier(cfg)
	var gotSubject, gotBody string
	var gotTo []string
	n.send = func(_ *SMTPConfig, subject, body string, to []string) error {
		gotSubject, gotBody, gotTo = subject, body, to
		return nil
	}
	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatal(err)
	}
	if gotSubject != sample().Title {
		t.Errorf("subject = %q", gotSubject)
	}
	if !reflect.DeepEqual(gotTo, []string{"b@qq.com", "c@qq.com"}) {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotBody, "&lt;AAPL&gt;") || !strings.Contains(gotBody, "$189.52") {
		t.Errorf("body = %s", gotBody)
	}
}

func TestNotifySkipsWithoutConfig(t *testing.T) {
	n := NewNotifier(&SMTPConfig{})
	n.send = func(*SMTPConfig, string, string, []string) error {
		t.Fatal("send called without config")
		return nil
	}
	if err := n.Notify(context.Background(), sample()); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyWrapsError(t *testing.T) {
	boom := errors.New("boom")
	n := NewNotifier(&SMTPConfig{Server: "s", From: "f", To: "t"})
	n.send = func(*SMTPConfig, string, string, []string) error { return boom }
	if err := n.Notify(context.Background(), sample()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestHeaderEncodesSubject(t *testing.T) {
	h := header("a@qq.com", []string{"b@qq.com"}, "💎 AAPL 已達殘值！")
	if !strings.Contains(h, "Subject: =?UTF-8?b?") {
		t.Errorf("header = %q", h)
	}
	if !strings.HasSuffix(h, "\r\n\r\n") {
		t.Error("header must end with blank line")
	}
}
