package store

import (
	"context"
	"encoding/json"
	"log"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/legit-games/secrets-service/models"
)

// GrantCache keeps approved JIT grants in Valkey so the decision engine's
// hot path can skip a database query. Entries carry a TTL clamped to the
// grant's remaining life, so the cache can never outlive the grant itself.
// The cache is strictly an accelerator: every miss falls back to the
// database, and cache failures are logged and ignored.
type GrantCache struct {
	client valkey.Client
	prefix string
}

// NewGrantCache creates a Valkey-backed grant cache.
// addr example: "127.0.0.1:6379"; prefix helps namespace keys.
func NewGrantCache(addr string, prefix string) (*GrantCache, error) {
	cli, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "secrets:"
	}
	return &GrantCache{client: cli, prefix: prefix}, nil
}

// NewGrantCacheWithClient wraps an existing client, for tests.
func NewGrantCacheWithClient(cli valkey.Client, prefix string) *GrantCache {
	if prefix == "" {
		prefix = "secrets:"
	}
	return &GrantCache{client: cli, prefix: prefix}
}

func (c *GrantCache) key(userID, projectID string) string {
	return c.prefix + "grant:" + userID + ":" + projectID
}

// Put stores an approved grant until it expires. Grants already past their
// expiry are not cached.
func (c *GrantCache) Put(ctx context.Context, req *models.AccessRequest) {
	if req == nil || req.Status != models.AccessRequestApproved || req.ExpiresAt == nil {
		return
	}
	ttl := time.Until(*req.ExpiresAt)
	if ttl <= 0 {
		return
	}
	jv, err := json.Marshal(req)
	if err != nil {
		return
	}
	cmd := c.client.B().Set().Key(c.key(req.UserID, req.ProjectID)).Value(string(jv)).Ex(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		log.Printf("grant-cache: put failed: %v", err)
	}
}

// Get returns the cached grant for (user, project) if present.
func (c *GrantCache) Get(ctx context.Context, userID, projectID string) (*models.AccessRequest, bool) {
	res := c.client.Do(ctx, c.client.B().Get().Key(c.key(userID, projectID)).Build())
	if res.Error() != nil {
		if !valkey.IsValkeyNil(res.Error()) {
			log.Printf("grant-cache: get failed: %v", res.Error())
		}
		return nil, false
	}
	raw, err := res.ToString()
	if err != nil {
		return nil, false
	}
	var req models.AccessRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, false
	}
	return &req, true
}

// Invalidate drops the cached grant for (user, project). Called on revoke
// so a revoked grant stops serving immediately rather than at TTL expiry.
func (c *GrantCache) Invalidate(ctx context.Context, userID, projectID string) {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(userID, projectID)).Build()).Error(); err != nil {
		log.Printf("grant-cache: invalidate failed: %v", err)
	}
}

// Close releases the underlying client.
func (c *GrantCache) Close() {
	c.client.Close()
}
