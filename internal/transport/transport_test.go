package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

// fakeSender implements Sender for testing
type fakeSender struct {
	channel   string
	delivered int
	err       error
}

func (f *fakeSender) Supports(channel string) bool {
	return channel == f.channel
}

func (f *fakeSender) Deliver(ctx context.Context, rec *models.Recipient, payload *Payload) error {
	f.delivered++
	return f.err
}

func TestManagerRoutesByChannel(t *testing.T) {
	push := &fakeSender{channel: models.ChannelPush}
	email := &fakeSender{channel: models.ChannelEmail}
	m := NewManager(push, email)

	rec := &models.Recipient{ID: "r1"}
	payload := &Payload{Title: "hi", Message: "there"}

	if err := m.Deliver(context.Background(), models.ChannelEmail, rec, payload); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if email.delivered != 1 || push.delivered != 0 {
		t.Errorf("email=%d push=%d, want 1/0", email.delivered, push.delivered)
	}
}

func TestManagerUnknownChannel(t *testing.T) {
	m := NewManager(&fakeSender{channel: models.ChannelPush})

	err := m.Deliver(context.Background(), "sms", &models.Recipient{}, &Payload{})
	if err == nil {
		t.Fatal("Deliver succeeded for unsupported channel")
	}
}

func TestManagerPropagatesSenderError(t *testing.T) {
	wantErr := errors.New("gateway down")
	m := NewManager(&fakeSender{channel: models.ChannelPush, err: wantErr})

	err := m.Deliver(context.Background(), models.ChannelPush, &models.Recipient{}, &Payload{})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestPushClientDeliver(t *testing.T) {
	var got pushRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/push" {
			t.Errorf("path = %s, want /api/v1/push", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewPushClient(srv.URL, "secret")
	rec := &models.Recipient{ID: "r1", DeviceToken: "tok-123"}
	payload := &Payload{Title: "Keep going", Message: "Day 30!", Type: "milestone"}

	if err := client.Deliver(context.Background(), rec, payload); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if got.DeviceToken != "tok-123" || got.Title != "Keep going" {
		t.Errorf("request = %+v", got)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestPushClientGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(pushErrorResponse{Error: "upstream unavailable"})
	}))
	defer srv.Close()

	client := NewPushClient(srv.URL, "secret")
	err := client.Deliver(context.Background(), &models.Recipient{ID: "r1", DeviceToken: "tok"}, &Payload{})
	if err == nil {
		t.Fatal("Deliver succeeded against failing gateway")
	}
}

func TestPushClientRequiresDeviceToken(t *testing.T) {
	client := NewPushClient("http://localhost:1", "secret")
	err := client.Deliver(context.Background(), &models.Recipient{ID: "r1"}, &Payload{})
	if err == nil {
		t.Fatal("Deliver succeeded without device token")
	}
}

func TestEmailSenderHonorsContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	// Accept connections but never send a greeting, like a wedged server.
	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		for _, c := range held {
			c.Close()
		}
		mu.Unlock()
	}()

	sender := NewEmailSender(ln.Addr().String(), "noreply@example.com", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sender.Deliver(ctx, &models.Recipient{ID: "r1", Email: "user@example.com"}, &Payload{Title: "t", Message: "m"})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Deliver succeeded against a silent server")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Deliver blocked %v past the 200ms deadline", elapsed)
	}
}

func TestEmailSenderRequiresAddress(t *testing.T) {
	sender := NewEmailSender("localhost:587", "noreply@example.com", "", "")
	err := sender.Deliver(context.Background(), &models.Recipient{ID: "r1"}, &Payload{Title: "t", Message: "m"})
	if err == nil {
		t.Fatal("Deliver succeeded without recipient email")
	}
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("noreply@example.com", "user@example.com", &Payload{Title: "Keep going", Message: "Day 30!"})

	for _, want := range []string{
		"From: noreply@example.com\r\n",
		"To: user@example.com\r\n",
		"Subject: Keep going\r\n",
		"Day 30!",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
