package control

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
)

const coordinatorSource = "coordinator"

// DefaultWriteTimeout bounds a single confirming write.
const DefaultWriteTimeout = 15 * time.Second

// Coordinator is the only writer of the Store. It applies intents
// optimistically, confirms them against the device, and rolls a field back
// when the latest write for it fails.
type Coordinator struct {
	store        *Store
	writer       Writer
	notifier     notify.Notifier
	recorder     Recorder
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	seq    map[Field]uint64 // latest issued write per field
	closed bool
}

// NewCoordinator creates a Coordinator. A nil recorder disables the ledger.
func NewCoordinator(store *Store, writer Writer, notifier notify.Notifier, recorder Recorder, writeTimeout time.Duration) *Coordinator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:        store,
		writer:       writer,
		notifier:     notifier,
		recorder:     recorder,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		seq:          make(map[Field]uint64),
	}
}

// pendingWrite is one confirming write in flight.
type pendingWrite struct {
	intent   Intent
	previous Intent
	seq      uint64
	id       string
}

// ApplyIntent applies in to the Store immediately and, for fields with a
// remote counterpart, starts the confirming write. Intents on locked or
// unknown fields, non-positive intervals, and intents before bootstrap
// are ignored without a notification.
func (c *Coordinator) ApplyIntent(in Intent) Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ResultIgnored
	}

	st, ready := c.store.Snapshot()
	if !ready || !st.Editable(in.Field) || (in.Field == FieldIrrigationIntervalHours && in.Hours <= 0) {
		c.mu.Unlock()
		log.Debug().
			Str("field", string(in.Field)).
			Bool("ready", ready).
			Msg("Intent ignored: field locked or unavailable")
		return ResultIgnored
	}

	w := pendingWrite{
		intent:   in,
		previous: st.intentFor(in.Field),
		id:       uuid.NewString(),
	}
	c.store.apply(in)

	local := in.Field.Local()
	if !local {
		c.seq[in.Field]++
		w.seq = c.seq[in.Field]
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.notifier.Clear()
	record(c.recorder, ledger.EventIntentApplied, w.id, coordinatorSource, intentPayload(in, w.seq))

	if local {
		log.Info().Str("field", string(in.Field)).Int("hours", in.Hours).Msg("Local setting applied")
		return ResultLocal
	}

	log.Info().
		Str("field", string(in.Field)).
		Bool("on", in.On).
		Uint64("seq", w.seq).
		Msg("Intent applied optimistically")

	go c.confirm(w)
	return ResultDispatched
}

// confirm issues the remote write for w and settles its outcome.
func (c *Coordinator) confirm(w pendingWrite) {
	defer c.wg.Done()

	spec := fieldSpecs[w.intent.Field]

	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	err := c.write(ctx, spec, w.intent)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if latest := c.seq[w.intent.Field]; latest != w.seq {
		c.mu.Unlock()
		log.Debug().
			Str("field", string(w.intent.Field)).
			Uint64("seq", w.seq).
			Uint64("latest", latest).
			Err(err).
			Msg("Discarding superseded write response")
		record(c.recorder, ledger.EventIntentSuperseded, w.id, coordinatorSource, map[string]any{"seq": w.seq, "latest": latest})
		return
	}
	if err != nil {
		c.store.apply(w.previous)
	}
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("field", string(w.intent.Field)).Msg("Remote write failed, rolled back")
		c.notifier.Show(spec.describe(w.intent, false), notify.KindError)
		record(c.recorder, ledger.EventIntentRolledBack, w.id, coordinatorSource, map[string]any{"error": err.Error()})
		return
	}

	log.Info().Str("field", string(w.intent.Field)).Bool("on", w.intent.On).Msg("Remote write confirmed")
	c.notifier.Show(spec.describe(w.intent, true), notify.KindSuccess)
	record(c.recorder, ledger.EventIntentConfirmed, w.id, coordinatorSource, nil)
}

func (c *Coordinator) write(ctx context.Context, spec fieldSpec, in Intent) error {
	switch spec.endpoint {
	case endpointAutomation:
		return c.writer.SetAutomation(ctx, spec.system, in.On)
	case endpointManual:
		return c.writer.ManualControl(ctx, spec.system, in.On)
	}
	return nil
}

// Wait blocks until every confirming write has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight writes; their responses no longer touch the Store.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

func intentPayload(in Intent, seq uint64) map[string]any {
	p := map[string]any{"field": string(in.Field)}
	if in.Field == FieldIrrigationIntervalHours {
		p["hours"] = in.Hours
	} else {
		p["on"] = in.On
		p["seq"] = seq
	}
	return p
}
