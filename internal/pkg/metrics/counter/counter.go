package counter

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

const membershipCountersKey = "membership:counters"

const (
	FieldAssign         = "assign"
	FieldRepair         = "repair"
	FieldDemotion       = "demotion"
	FieldSweepRuns      = "sweep_runs"
	FieldExpiredRecords = "expired_records"
	FieldPointerChanges = "pointer_changes"
)

// Fields lists every counter in display order.
var Fields = []string{FieldAssign, FieldRepair, FieldDemotion, FieldSweepRuns, FieldExpiredRecords, FieldPointerChanges}

// MembershipCounters keeps operation counters in a Redis hash.
type MembershipCounters struct {
	rdb *redis.Client
}

func NewMembershipCounters(rdb *redis.Client) *MembershipCounters {
	return &MembershipCounters{rdb: rdb}
}

// HandleMembershipEvent implements membership.Listener.
func (m *MembershipCounters) HandleMembershipEvent(ctx context.Context, ev membership.Event) {
	incs := map[string]int64{}
	switch ev.Kind {
	case membership.EventAssigned:
		incs[FieldAssign] = 1
	case membership.EventRepaired:
		incs[FieldRepair] = 1
	case membership.EventDemoted:
		incs[FieldDemotion] = 1
	case membership.EventSwept:
		incs[FieldSweepRuns] = 1
		if ev.Count > 0 {
			incs[FieldExpiredRecords] = ev.Count
		}
	}
	if ev.PointerChanged {
		incs[FieldPointerChanges] = 1
	}
	if err := m.add(ctx, incs); err != nil {
		log.Errorw("failed to bump membership counters", "kind", ev.Kind, "error", err)
	}
}

func (m *MembershipCounters) add(ctx context.Context, incs map[string]int64) error {
	if len(incs) == 0 {
		return nil
	}
	pipe := m.rdb.TxPipeline()
	for field, n := range incs {
		pipe.HIncrBy(ctx, membershipCountersKey, field, n)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot returns every counter; missing ones read as zero.
func (m *MembershipCounters) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := m.rdb.HGetAll(ctx, membershipCountersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(Fields))
	for _, f := range Fields {
		out[f] = 0
	}
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
