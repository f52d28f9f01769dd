package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMirror is the optional secondary durable cache for C2, directly
// modeled on original_source's RedisFaceDB: a "face:index" set of labels
// plus one "face:vec:{label}" key per centroid, stored as raw float32
// bytes (np.ndarray.tobytes() there, binary.Write here).
type RedisMirror struct {
	rdb       *redis.Client
	keyIndex  string
	keyVecFmt string
}

// NewRedisMirror wraps an existing client. addr/db selection happens at
// the call site (internal/config.RedisConfig); this type only knows the
// key layout.
func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, keyIndex: "face:index", keyVecFmt: "face:vec:%s"}
}

func (m *RedisMirror) SaveVector(label string, vec []float32) error {
	ctx := context.Background()
	buf, err := encodeVector(vec)
	if err != nil {
		return err
	}
	if err := m.rdb.SAdd(ctx, m.keyIndex, label).Err(); err != nil {
		return fmt.Errorf("index mirror: sadd: %w", err)
	}
	if err := m.rdb.Set(ctx, fmt.Sprintf(m.keyVecFmt, label), buf, 0).Err(); err != nil {
		return fmt.Errorf("index mirror: set vector: %w", err)
	}
	return nil
}

func (m *RedisMirror) LoadAll() (map[string][]float32, error) {
	ctx := context.Background()
	labels, err := m.rdb.SMembers(ctx, m.keyIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("index mirror: smembers: %w", err)
	}

	out := make(map[string][]float32, len(labels))
	for _, label := range labels {
		raw, err := m.rdb.Get(ctx, fmt.Sprintf(m.keyVecFmt, label)).Bytes()
		if err == redis.Nil || len(raw) == 0 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("index mirror: get vector %q: %w", label, err)
		}
		vec, err := decodeVector(raw)
		if err != nil {
			continue
		}
		out[label] = vec
	}
	return out, nil
}

func (m *RedisMirror) DeleteLabel(label string) error {
	ctx := context.Background()
	if err := m.rdb.Del(ctx, fmt.Sprintf(m.keyVecFmt, label)).Err(); err != nil {
		return fmt.Errorf("index mirror: del vector: %w", err)
	}
	if err := m.rdb.SRem(ctx, m.keyIndex, label).Err(); err != nil {
		return fmt.Errorf("index mirror: srem: %w", err)
	}
	return nil
}

func encodeVector(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(vec) * 4)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("vector byte length %d not a multiple of 4", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vec, nil
}
