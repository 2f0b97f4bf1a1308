package files

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	pkgredis "github.com/prism-ai/prism/internal/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown file ids and for files owned by another client.
var ErrNotFound = errors.New("file not found")

// RegistryTTL bounds how long an upload is remembered by the redis registry.
const RegistryTTL = 24 * time.Hour

// Registry tracks uploaded files and their status.
type Registry interface {
	Save(ctx context.Context, f UploadedFile) error
	Get(ctx context.Context, id string) (UploadedFile, error)
	List(ctx context.Context, owner string) ([]UploadedFile, error)
	Delete(ctx context.Context, id string) error
}

func sortNewestFirst(out []UploadedFile) {
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
}

// MemoryRegistry keeps files in process memory.
type MemoryRegistry struct {
	mu    sync.RWMutex
	files map[string]UploadedFile
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{files: make(map[string]UploadedFile)}
}

func (r *MemoryRegistry) Save(_ context.Context, f UploadedFile) error {
	r.mu.Lock()
	r.files[f.ID] = f
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (UploadedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return UploadedFile{}, ErrNotFound
	}
	return f, nil
}

func (r *MemoryRegistry) List(_ context.Context, owner string) ([]UploadedFile, error) {
	r.mu.RLock()
	out := make([]UploadedFile, 0)
	for _, f := range r.files {
		if f.Owner == owner {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.files, id)
	r.mu.Unlock()
	return nil
}

const (
	redisFilePrefix  = "prism:files:"
	redisOwnerPrefix = "prism:files:owner:"
)

// storedFile is the redis encoding; it keeps the fields UploadedFile hides from clients.
type storedFile struct {
	UploadedFile
	Owner     string `json:"owner"`
	ObjectKey string `json:"object_key"`
}

// RedisRegistry shares file state across instances. Entries expire after RegistryTTL.
type RedisRegistry struct {
	rc  *pkgredis.Client
	ttl time.Duration
}

func NewRedisRegistry(rc *pkgredis.Client) *RedisRegistry {
	return &RedisRegistry{rc: rc, ttl: RegistryTTL}
}

func (r *RedisRegistry) Save(ctx context.Context, f UploadedFile) error {
	data, err := json.Marshal(storedFile{UploadedFile: f, Owner: f.Owner, ObjectKey: f.ObjectKey})
	if err != nil {
		return err
	}
	ownerKey := redisOwnerPrefix + f.Owner
	_, err = r.rc.Raw().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, redisFilePrefix+f.ID, data, r.ttl)
		pipe.SAdd(ctx, ownerKey, f.ID)
		pipe.Expire(ctx, ownerKey, r.ttl)
		return nil
	})
	return err
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (UploadedFile, error) {
	raw, ok, err := r.rc.Lookup(ctx, redisFilePrefix+id)
	if err != nil {
		return UploadedFile{}, err
	}
	if !ok {
		return UploadedFile{}, ErrNotFound
	}
	return decodeStored(raw)
}

func decodeStored(raw string) (UploadedFile, error) {
	var sf storedFile
	if err := json.Unmarshal([]byte(raw), &sf); err != nil {
		return UploadedFile{}, err
	}
	f := sf.UploadedFile
	f.Owner = sf.Owner
	f.ObjectKey = sf.ObjectKey
	return f, nil
}

func (r *RedisRegistry) List(ctx context.Context, owner string) ([]UploadedFile, error) {
	ownerKey := redisOwnerPrefix + owner
	ids, err := r.rc.Raw().SMembers(ctx, ownerKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]UploadedFile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisFilePrefix + id
	}
	values, err := r.rc.Raw().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var expired []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		f, err := decodeStored(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(expired) > 0 {
		_ = r.rc.Raw().SRem(ctx, ownerKey, expired...).Err()
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	f, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.rc.Raw().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, redisFilePrefix+id)
		pipe.SRem(ctx, redisOwnerPrefix+f.Owner, id)
		return nil
	})
	return err
}
