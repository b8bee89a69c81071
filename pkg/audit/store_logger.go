package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adamantine-wallet/gate/pkg/store"
)

const namespace = store.Namespace("AUDIT")

// StoreLogger persists events in a store.KV, keyed so that listing returns
// them in time order.
type StoreLogger struct {
	kv store.KV
}

func NewStoreLogger(kv store.KV) *StoreLogger {
	return &StoreLogger{kv: kv}
}

func eventKey(evt Event) string {
	return namespace.Key(fmt.Sprintf("%020d_%s", evt.Timestamp.UnixNano(), evt.ID))
}

func (l *StoreLogger) Record(ctx context.Context, evt Event) error {
	if l.kv == nil {
		return fmt.Errorf("fail-closed: audit store not configured")
	}
	evt = stamp(evt)
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	return l.kv.Put(ctx, eventKey(evt), raw)
}

// List returns stored events oldest first.
func (l *StoreLogger) List(ctx context.Context) ([]Event, error) {
	keys, err := l.kv.Keys(ctx, namespace.Prefix())
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(keys))
	for _, k := range keys {
		raw, err := l.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("audit: decode %s: %w", namespace.Strip(k), err)
		}
		out = append(out, evt)
	}
	return out, nil
}
