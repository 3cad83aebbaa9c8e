package engine

import (
	"context"
	"log"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	EventAfterCreate = "after_create"
	EventAfterUpdate = "after_update"
	EventAfterDelete = "after_delete"
)

// Hook runs after a committed single-record write. record is the saved row;
// old is the pre-write row for updates and deletes, nil for creates.
type Hook func(ctx context.Context, entity string, record, old map[string]any)

var hooks = xsync.NewMapOf[string, []Hook]()

func hookKey(entity, event string) string {
	return entity + ":" + event
}

// RegisterHook attaches a hook to an entity/event pair. Pass entity "*"
// to receive the event for every entity.
func RegisterHook(entity, event string, fn Hook) {
	key := hookKey(entity, event)
	hooks.Compute(key, func(existing []Hook, _ bool) ([]Hook, bool) {
		return append(existing, fn), false
	})
}

// FireHooks runs the hooks for an event synchronously. A panicking hook is
// logged and skipped; it never fails the request that triggered it.
func FireHooks(ctx context.Context, event, entity string, record, old map[string]any) {
	for _, key := range []string{hookKey(entity, event), hookKey("*", event)} {
		fns, ok := hooks.Load(key)
		if !ok {
			continue
		}
		for _, fn := range fns {
			runHook(ctx, fn, event, entity, record, old)
		}
	}
}

func runHook(ctx context.Context, fn Hook, event, entity string, record, old map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("hook panic for %s %s: %v", entity, event, r)
		}
	}()
	fn(ctx, entity, record, old)
}

// ResetHooks clears all registered hooks. Test helper.
func ResetHooks() {
	hooks.Clear()
}
