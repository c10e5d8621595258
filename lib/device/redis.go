package device

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.GetLogger("device")

const (
	redisKeyPrefix   = "kvds:device:"
	redisEventsTopic = "kvds:device:events"
	defaultTTL       = 15 * time.Second
)

// RedisConfig configures a RedisProvider.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL of the presence key. The key is refreshed every TTL/3.
	TTL   time.Duration
	Local BasicInfo
}

// redisEvent is published on redisEventsTopic.
type redisEvent struct {
	Device BasicInfo  `json:"device"`
	Change ChangeType `json:"change"`
}

func presenceKey(deviceId string) string {
	return redisKeyPrefix + deviceId
}

func encodeEvent(info BasicInfo, change ChangeType) string {
	raw, _ := json.Marshal(redisEvent{Device: info, Change: change})
	return string(raw)
}

func decodeEvent(payload string) (redisEvent, error) {
	var ev redisEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}

// RedisProvider discovers devices through presence keys in redis.
//
// Every device keeps a key kvds:device:<id> with a short TTL alive and announces
// state changes on a pub/sub channel. A device that stops refreshing its key
// silently disappears from GetRemoteNodesBasicInfo.
type RedisProvider struct {
	client    *redis.Client
	local     BasicInfo
	ttl       time.Duration
	observers observers

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisProvider connects to redis, registers the local device and starts the heartbeat.
func NewRedisProvider(ctx context.Context, cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Local.DeviceId == "" {
		cfg.Local.DeviceId = uuid.NewString()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis %s", cfg.Addr)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &RedisProvider{
		client:    client,
		local:     cfg.Local,
		ttl:       cfg.TTL,
		observers: newObservers(),
		cancel:    cancel,
	}
	if err := p.announce(ctx, Online); err != nil {
		cancel()
		_ = client.Close()
		return nil, err
	}

	sub := client.Subscribe(runCtx, redisEventsTopic)
	p.wg.Add(2)
	go p.heartbeat(runCtx)
	go p.listen(runCtx, sub)
	return p, nil
}

func (p *RedisProvider) announce(ctx context.Context, change ChangeType) error {
	if change == Online {
		raw, err := json.Marshal(p.local)
		if err != nil {
			return err
		}
		if err := p.client.Set(ctx, presenceKey(p.local.DeviceId), raw, p.ttl).Err(); err != nil {
			return errors.Wrap(err, "register device")
		}
	} else if err := p.client.Del(ctx, presenceKey(p.local.DeviceId)).Err(); err != nil {
		return errors.Wrap(err, "unregister device")
	}
	return p.client.Publish(ctx, redisEventsTopic, encodeEvent(p.local, change)).Err()
}

func (p *RedisProvider) heartbeat(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.client.Expire(ctx, presenceKey(p.local.DeviceId), p.ttl).Err(); err != nil {
				log.Warningf("refresh presence failed: %v", err)
				continue
			}
		}
	}
}

func (p *RedisProvider) listen(ctx context.Context, sub *redis.PubSub) {
	defer p.wg.Done()
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				log.Warningf("invalid device event: %v", err)
				continue
			}
			if ev.Device.DeviceId == p.local.DeviceId {
				continue
			}
			p.observers.notify(ev.Device, ev.Change)
		}
	}
}

func (p *RedisProvider) GetLocalBasicInfo() BasicInfo { return p.local }

func (p *RedisProvider) GetRemoteNodesBasicInfo() []BasicInfo {
	ctx, cancel := context.WithTimeout(context.Background(), p.ttl)
	defer cancel()

	var keys []string
	iter := p.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == redisEventsTopic || strings.TrimPrefix(key, redisKeyPrefix) == p.local.DeviceId {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		log.Errorf("list devices failed: %v", err)
		return nil
	}
	if len(keys) == 0 {
		return nil
	}

	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Errorf("read devices failed: %v", err)
		return nil
	}
	devices := make([]BasicInfo, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var info BasicInfo
		if err := json.Unmarshal([]byte(s), &info); err == nil {
			devices = append(devices, info)
		}
	}
	return devices
}

func (p *RedisProvider) StartWatchDeviceChange(observer ChangeObserver, pipe PipeInfo) error {
	return p.observers.add(observer, pipe)
}

func (p *RedisProvider) StopWatchDeviceChange(observer ChangeObserver, _ PipeInfo) error {
	return p.observers.remove(observer)
}

func (p *RedisProvider) ToNodeID(deviceId string) string { return NodeID(deviceId) }

// Close announces the local device offline and stops the background goroutines.
func (p *RedisProvider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.ttl)
	defer cancel()
	err := p.announce(ctx, Offline)
	p.cancel()
	p.wg.Wait()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}
