package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FileLoader reads a JSON priority file. Two shapes are accepted:
//
//	{"Karimpur": 1, "Tehatta": 2}
//	[{"acName": "Karimpur", "priority": 1}, ...]
//
// The list form matches the AC master data export.
type FileLoader struct {
	Path string
}

type acPriorityRow struct {
	ACName   string `json:"acName"`
	Name     string `json:"name"`
	Priority *int   `json:"priority"`
}

func (l FileLoader) Load(ctx context.Context) (map[string]int, error) {
	if l.Path == "" {
		return map[string]int{}, nil
	}
	b, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("priority: read %s: %w", l.Path, err)
	}
	return ParseJSON(b)
}

// ParseJSON decodes either supported priority file shape.
func ParseJSON(b []byte) (map[string]int, error) {
	var asMap map[string]int
	if err := json.Unmarshal(b, &asMap); err == nil {
		return asMap, nil
	}

	var rows []acPriorityRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("priority: unsupported file shape: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		name := r.ACName
		if name == "" {
			name = r.Name
		}
		if name == "" || r.Priority == nil {
			continue
		}
		out[name] = *r.Priority
	}
	return out, nil
}

// RedisLoader shares one copy of the map across API processes. On a miss it
// loads from Source and writes the result back with TTL.
type RedisLoader struct {
	Client redis.Cmdable
	Key    string
	TTL    time.Duration
	Source Loader
}

const defaultRedisKey = "cati:priority_map"

func (l RedisLoader) key() string {
	if l.Key == "" {
		return defaultRedisKey
	}
	return l.Key
}

func (l RedisLoader) Load(ctx context.Context) (map[string]int, error) {
	if l.Client == nil {
		return nil, fmt.Errorf("priority: redis client is nil")
	}

	cached, err := l.Client.HGetAll(ctx, l.key()).Result()
	if err == nil && len(cached) > 0 {
		out := make(map[string]int, len(cached))
		for name, v := range cached {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				continue
			}
			out[name] = n
		}
		return out, nil
	}
	if l.Source == nil {
		if err != nil {
			return nil, err
		}
		return map[string]int{}, nil
	}

	m, err := l.Source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return m, nil
	}

	fields := make(map[string]any, len(m))
	for name, tier := range m {
		fields[name] = tier
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pipe := l.Client.TxPipeline()
	pipe.Del(ctx, l.key())
	pipe.HSet(ctx, l.key(), fields)
	pipe.Expire(ctx, l.key(), ttl)
	// Write-through failure only costs the next process a source read.
	_, _ = pipe.Exec(ctx)
	return m, nil
}
