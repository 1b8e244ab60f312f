package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	opensrfaddr "github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/errors"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// queuePrefix namespaces bus addresses inside the shared Redis keyspace so
// this framework can share a Redis instance with unrelated workloads.
const queuePrefix = "opensrf:queue:"

func queueKey(a opensrfaddr.Address) string {
	return queuePrefix + a.String()
}

// RedisClient is the Redis-backed Client named in spec.md §9's open
// question: "the Redis-style named-queue model is simpler and matches the
// current trajectory". Each claimed address becomes one Redis list;
// Send is RPUSH, Recv is BLPOP/LPOP across every list this client owns.
type RedisClient struct {
	mu        sync.Mutex
	rdb       *redis.Client
	addresses []opensrfaddr.Address
	compress  bool
	compressThreshold int
}

// NewRedisClient constructs an unconnected RedisClient. Call Connect before
// Send/Recv. compress/compressThreshold mirror config.BusConfig's knobs for
// zstd-compressing large bodies (see maybeCompress in compress.go).
func NewRedisClient(compress bool, compressThresholdBytes int) *RedisClient {
	return &RedisClient{compress: compress, compressThreshold: compressThresholdBytes}
}

func (c *RedisClient) Connect(ctx context.Context, domain string, port int, creds Credentials, role Role, identity string, droneID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", domain, port),
		Username: creds.Username,
		Password: creds.Password,
	})
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Mark(errors.Wrapf(err, "connect to bus at %s", domain), errors.KindTransport)
	}

	switch role {
	case RoleRouter:
		c.addresses = []opensrfaddr.Address{opensrfaddr.Router(domain)}
	case RoleService:
		c.addresses = []opensrfaddr.Address{opensrfaddr.Service(domain, identity)}
		if droneID != "" {
			c.addresses = append(c.addresses, opensrfaddr.Drone(domain, identity, droneID))
		}
	case RoleStandalone:
		c.addresses = []opensrfaddr.Address{opensrfaddr.Service(domain, identity)}
	default:
		return errors.New("unknown bus role %q", role)
	}
	return nil
}

func (c *RedisClient) Addresses() []opensrfaddr.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]opensrfaddr.Address, len(c.addresses))
	copy(out, c.addresses)
	return out
}

func (c *RedisClient) Send(msg *message.TransportMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	data, err = c.maybeCompress(data)
	if err != nil {
		return err
	}

	recipient, err := opensrfaddr.Parse(msg.Recipient)
	if err != nil {
		return errors.Mark(err, errors.KindProtocol)
	}

	c.mu.Lock()
	rdb := c.rdb
	c.mu.Unlock()
	if rdb == nil {
		return errors.Mark(errors.New("bus client not connected"), errors.KindTransport)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.RPush(ctx, queueKey(recipient), data).Err(); err != nil {
		// A single retry covers a transient network blip; sustained
		// failure propagates per spec.md §7.
		if err2 := rdb.RPush(ctx, queueKey(recipient), data).Err(); err2 != nil {
			return errors.Mark(errors.Wrapf(err2, "send to %s", msg.Recipient), errors.KindTransport)
		}
	}
	return nil
}

func (c *RedisClient) Recv(timeout time.Duration) (*message.TransportMessage, error) {
	c.mu.Lock()
	rdb := c.rdb
	keys := make([]string, len(c.addresses))
	for i, a := range c.addresses {
		keys[i] = queueKey(a)
	}
	c.mu.Unlock()
	if rdb == nil {
		return nil, errors.Mark(errors.New("bus client not connected"), errors.KindTransport)
	}
	if len(keys) == 0 {
		return nil, errors.Mark(errors.New("bus client owns no addresses"), errors.KindTransport)
	}

	if timeout == 0 {
		return c.recvNonBlocking(keys, rdb)
	}

	blockFor := timeout
	if timeout < 0 {
		blockFor = 0 // redis BLPOP timeout 0 means block indefinitely
	}
	ctx := context.Background()
	result, err := rdb.BLPop(ctx, blockFor, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "recv from bus"), errors.KindTransport)
	}
	// result is [key, value]
	return c.decode(result[1])
}

func (c *RedisClient) recvNonBlocking(keys []string, rdb *redis.Client) (*message.TransportMessage, error) {
	ctx := context.Background()
	for _, key := range keys {
		val, err := rdb.LPop(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "recv from bus"), errors.KindTransport)
		}
		return c.decode(val)
	}
	return nil, nil
}

func (c *RedisClient) decode(raw string) (*message.TransportMessage, error) {
	data, err := c.maybeDecompress([]byte(raw))
	if err != nil {
		return nil, err
	}
	return message.DecodeTransportMessage(data)
}

func (c *RedisClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "disconnect from bus"), errors.KindTransport)
	}
	return nil
}
