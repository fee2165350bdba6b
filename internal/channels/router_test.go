package channels

import (
	"context"
	"errors"
	"testing"
)

type namedHost struct {
	name  string
	calls int
}

type namedChannel struct{ id string }

func (c namedChannel) ID() string                                 { return c.id }
func (namedChannel) Send(context.Context, string) (string, error) { return "m", nil }
func (namedChannel) Edit(context.Context, string, string) error   { return nil }

func (h *namedHost) CreateChannel(_ context.Context, _ Origin, name string) (Channel, error) {
	h.calls++
	return namedChannel{id: h.name + "/" + name}, nil
}

func TestRouterDispatchesByPlatform(t *testing.T) {
	discord := &namedHost{name: "discord"}
	fallback := &namedHost{name: "memory"}
	r := NewRouter(fallback)
	r.Register("discord", discord)

	ch, err := r.CreateChannel(context.Background(), Origin{Platform: "discord"}, "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ch.ID() != "discord/t" {
		t.Fatalf("unexpected channel %q", ch.ID())
	}

	ch, err = r.CreateChannel(context.Background(), Origin{Platform: "http"}, "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ch.ID() != "memory/t" {
		t.Fatalf("expected fallback host, got %q", ch.ID())
	}
	if discord.calls != 1 || fallback.calls != 1 {
		t.Fatalf("unexpected call counts discord=%d fallback=%d", discord.calls, fallback.calls)
	}
}

func TestRouterWithoutHost(t *testing.T) {
	r := NewRouter(nil)
	r.Register("discord", &namedHost{name: "discord"})
	r.Register("discord", nil)

	_, err := r.CreateChannel(context.Background(), Origin{Platform: "discord"}, "t")
	if !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost, got %v", err)
	}
}

func TestThreadName(t *testing.T) {
	if got := ThreadName("Ada"); got != "[Ada] - Prompt" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := ThreadName(""); got != "[anonymous] - Prompt" {
		t.Fatalf("unexpected name %q", got)
	}
}
