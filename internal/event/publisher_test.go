package event

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestValkeyPublisherPublish(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sub := rdb.Subscribe(t.Context(), Channel())
	defer sub.Close()
	if _, err := sub.Receive(t.Context()); err != nil {
		t.Fatalf("subscribe confirm: %v", err)
	}

	p := NewValkeyPublisher(rdb, zerolog.Nop())
	env := New(NewMessage, "conv1", map[string]string{"hello": "world"})
	if err := p.Publish(t.Context(), env); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg, err := sub.ReceiveMessage(t.Context())
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	if msg.Channel != Channel() {
		t.Errorf("Channel = %q, want %q", msg.Channel, Channel())
	}
}
