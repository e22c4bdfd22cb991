package redis

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Client wraps the shared Redis connection used for ephemeral presence
// state: role rosters and typing TTL keys. Nothing durable lives here.
type Client struct {
	client *redis.Client
}

func NewClient(host, port, password string) *Client {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Client{client: client}
}
