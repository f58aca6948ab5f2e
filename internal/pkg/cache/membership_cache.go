package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PurchaseDesk/app/models"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

const (
	activeMembershipKeyPrefix = "membership:active:"
	// stored for users without a valid membership so misses are cached too
	noMembershipMarker = "none"

	DefaultActiveMembershipTTL = 5 * time.Minute
)

// ActiveMembershipSource is the uncached read path.
type ActiveMembershipSource interface {
	ActiveMembership(ctx context.Context, userID uint) (*models.MembershipRecord, error)
}

// ActiveMembershipCache is a read-through cache for the limit-check read.
// Registered as an engine listener it drops a user's entry on every change.
type ActiveMembershipCache struct {
	rdb    *redis.Client
	source ActiveMembershipSource
	ttl    time.Duration
	now    func() time.Time
}

func NewActiveMembershipCache(rdb *redis.Client, source ActiveMembershipSource, ttl time.Duration) *ActiveMembershipCache {
	if ttl <= 0 {
		ttl = DefaultActiveMembershipTTL
	}
	return &ActiveMembershipCache{rdb: rdb, source: source, ttl: ttl, now: time.Now}
}

func activeMembershipKey(userID uint) string {
	return fmt.Sprintf("%s%d", activeMembershipKeyPrefix, userID)
}

// ActiveMembership serves from Redis when possible. A cached record whose
// window has passed is treated as a miss. Redis errors fall back to the source.
func (c *ActiveMembershipCache) ActiveMembership(ctx context.Context, userID uint) (*models.MembershipRecord, error) {
	key := activeMembershipKey(userID)

	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && raw == noMembershipMarker:
		return nil, nil
	case err == nil:
		var rec models.MembershipRecord
		if jerr := json.Unmarshal([]byte(raw), &rec); jerr == nil && rec.IsValidAt(c.now()) {
			return &rec, nil
		}
	case !errors.Is(err, redis.Nil):
		log.Warnw("active membership cache read failed", "user_id", userID, "error", err)
	}

	rec, err := c.source.ActiveMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, userID, rec)
	return rec, nil
}

func (c *ActiveMembershipCache) store(ctx context.Context, userID uint, rec *models.MembershipRecord) {
	value := noMembershipMarker
	ttl := c.ttl
	if rec != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		value = string(data)
		if left := rec.EndAt.Sub(c.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, activeMembershipKey(userID), value, ttl).Err(); err != nil {
		log.Warnw("active membership cache write failed", "user_id", userID, "error", err)
	}
}

// Invalidate drops the cached entry of a user.
func (c *ActiveMembershipCache) Invalidate(ctx context.Context, userID uint) error {
	return c.rdb.Del(ctx, activeMembershipKey(userID)).Err()
}

// HandleMembershipEvent implements membership.Listener. A sweep run does not
// name a user; its per-user demotions arrive as separate events.
func (c *ActiveMembershipCache) HandleMembershipEvent(ctx context.Context, ev membership.Event) {
	if ev.UserID == 0 {
		return
	}
	if err := c.Invalidate(ctx, ev.UserID); err != nil {
		log.Errorw("active membership cache invalidation failed", "user_id", ev.UserID, "error", err)
	}
}
