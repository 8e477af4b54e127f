package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
	"github.com/shobu13/kindly-kappa/internal/protocol"
)

// How long the last sync of a room stays readable after it was published
const stateTTL = time.Hour

// Publisher mirrors room broadcasts onto redis: every event goes out on the
// room's channel and the latest sync is kept under the room's state key.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

func New(ctx context.Context, addr, prefix string) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	glog.Infof("[relay] mirroring room events to redis at %s", addr)
	return &Publisher{rdb: rdb, prefix: prefix}, nil
}

func (p *Publisher) Channel(code string) string {
	return p.prefix + code
}

func (p *Publisher) StateKey(code string) string {
	return p.prefix + code + ":state"
}

func (p *Publisher) Publish(ctx context.Context, code string, resp protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.Channel(code), payload)
		if resp.Type == protocol.EventSync {
			pipe.Set(ctx, p.StateKey(code), payload, stateTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", resp.Type, err)
	}
	return nil
}

// Last sync published for the room; nil when there is none
func (p *Publisher) State(ctx context.Context, code string) ([]byte, error) {
	state, err := p.rdb.Get(ctx, p.StateKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return state, err
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
