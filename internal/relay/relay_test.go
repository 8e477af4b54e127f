package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shobu13/kindly-kappa/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	p := &Publisher{prefix: "kappa:room:"}
	assert.Equal(t, "kappa:room:abc", p.Channel("abc"))
	assert.Equal(t, "kappa:room:abc:state", p.StateKey("abc"))
}

func TestNewUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, "127.0.0.1:1", "kappa:room:")
	assert.Error(t, err)
}

// Needs a live server: KAPPA_TEST_REDIS=localhost:6379
func TestPublish(t *testing.T) {
	addr := os.Getenv("KAPPA_TEST_REDIS")
	if addr == "" {
		t.Skip("KAPPA_TEST_REDIS not set")
	}

	ctx := context.Background()
	prefix := "kappa:test:" + time.Now().Format("150405.000") + ":"
	p, err := New(ctx, addr, prefix)
	require.NoError(t, err)
	defer p.Close()

	sub := redis.NewClient(&redis.Options{Addr: addr})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, p.Channel("abc"))
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	move := protocol.NewResponse(protocol.EventMove, protocol.MoveData{Position: protocol.Position{1, 2}})
	require.NoError(t, p.Publish(ctx, "abc", move))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "move", got["type"])

	state, err := p.State(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, state, "only syncs are kept")

	sync := protocol.NewResponse(protocol.EventSync, protocol.SyncData{Code: "x = 1"})
	require.NoError(t, p.Publish(ctx, "abc", sync))
	state, err = p.State(ctx, "abc")
	require.NoError(t, err)
	assert.Contains(t, string(state), `"code":"x = 1"`)

	sub.Del(ctx, p.StateKey("abc"))
}
