package crdt

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Option configures a Doc.
type Option func(*Doc)

// WithLogger sets the logger used for remote apply diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Doc) {
		d.logger = l
	}
}

// Doc is the replicated document: keyed block and link records plus one
// text sequence per block id. Every mutation runs inside a transaction.
//
// Doc is not safe for concurrent use. The owning session's event loop
// is its only caller; handlers may call back into the Doc reentrantly.
type Doc struct {
	clock  *LamportClock
	logger *slog.Logger
	colls  map[Collection]map[string]*entry

	seq  int64
	log  []Update
	seen map[string]map[int64]bool
	sv   StateVector

	txn     *Txn
	depth   int
	pending []Update

	updateHandlers []func(Update)
	eventHandlers  map[Collection][]func(Event)
	txnObservers   []func(TxnRecord)
}

// NewDoc creates an empty document for the given local actor.
func NewDoc(actor string, opts ...Option) *Doc {
	d := &Doc{
		clock:         NewLamportClock(actor),
		logger:        slog.Default(),
		colls:         make(map[Collection]map[string]*entry),
		seen:          make(map[string]map[int64]bool),
		sv:            make(StateVector),
		eventHandlers: make(map[Collection][]func(Event)),
	}
	for _, c := range Collections {
		d.colls[c] = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Actor returns the local actor id.
func (d *Doc) Actor() string {
	return d.clock.Actor()
}

// Clock returns the current Lamport time of the replica.
func (d *Doc) Clock() int64 {
	return d.clock.Current()
}

// OnUpdate registers a handler for updates committed by local (and undo)
// transactions. Remote updates are never re-emitted.
func (d *Doc) OnUpdate(h func(Update)) {
	d.updateHandlers = append(d.updateHandlers, h)
}

// Observe registers a handler for one collection's change events.
func (d *Doc) Observe(coll Collection, h func(Event)) {
	d.eventHandlers[coll] = append(d.eventHandlers[coll], h)
}

// OnTransaction registers a handler called once per committed
// transaction, after all collection events.
func (d *Doc) OnTransaction(h func(TxnRecord)) {
	d.txnObservers = append(d.txnObservers, h)
}

// Get returns a copy of the visible fields of a record.
func (d *Doc) Get(coll Collection, key string) (map[string]any, bool) {
	s := d.colls[coll][key].state(coll)
	if !s.Present || coll == CollText {
		return nil, false
	}
	return s.Fields, true
}

// Text returns the visible text of a key.
func (d *Doc) Text(key string) (string, bool) {
	s := d.colls[CollText][key].state(CollText)
	return s.Text, s.Present
}

// Has reports whether a key is visible in a collection.
func (d *Doc) Has(coll Collection, key string) bool {
	e, ok := d.colls[coll][key]
	return ok && e.visible() != nil
}

// Keys returns the visible keys of a collection in sorted order.
func (d *Doc) Keys(coll Collection) []string {
	keys := make([]string, 0, len(d.colls[coll]))
	for k, e := range d.colls[coll] {
		if e.visible() != nil {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Transact runs fn as one atomic transaction. Reads inside fn observe
// earlier writes of the same transaction. If fn returns an error every
// touched key is restored and nothing is emitted. Calls made from inside
// fn join the running transaction.
func (d *Doc) Transact(origin Origin, fn func(tx *Txn) error) error {
	if d.txn != nil {
		return fn(d.txn)
	}

	d.depth++
	defer d.finish()

	tx := newTxn(d, origin)
	d.txn = tx
	err := fn(tx)
	d.txn = nil
	if err != nil {
		tx.rollback()
		return err
	}
	d.commit(tx, nil)
	return nil
}

// ApplyUpdate merges an update produced by another replica. Duplicates
// are ignored. Updates arriving while a transaction or its event
// dispatch is running are queued and applied once it completes.
func (d *Doc) ApplyUpdate(u Update) error {
	if d.depth > 0 {
		d.pending = append(d.pending, u)
		return nil
	}
	d.depth++
	defer d.finish()
	return d.applyRemote(u)
}

// Load replays a persisted update log, restoring the local seq so new
// local updates continue after the stored ones.
func (d *Doc) Load(updates []Update) error {
	for _, u := range updates {
		if err := d.ApplyUpdate(u); err != nil {
			return fmt.Errorf("load update %s/%d: %w", u.Actor, u.Seq, err)
		}
	}
	return nil
}

// StateVector returns a copy of the per-actor contiguous seq watermark.
func (d *Doc) StateVector() StateVector {
	return maps.Clone(d.sv)
}

// UpdatesSince returns every logged update the holder of sv has not seen.
func (d *Doc) UpdatesSince(sv StateVector) []Update {
	var out []Update
	for _, u := range d.log {
		if u.Seq > sv[u.Actor] {
			out = append(out, u)
		}
	}
	return out
}

// Updates returns the full update log in application order.
func (d *Doc) Updates() []Update {
	return slices.Clone(d.log)
}

func (d *Doc) finish() {
	d.depth--
	if d.depth > 0 {
		return
	}
	for len(d.pending) > 0 {
		u := d.pending[0]
		d.pending = d.pending[1:]
		d.depth++
		err := d.applyRemote(u)
		d.depth--
		if err != nil {
			d.logger.Warn("dropped queued update",
				"actor", u.Actor,
				"seq", u.Seq,
				"error", err)
		}
	}
}

func (d *Doc) applyRemote(u Update) error {
	if u.Actor == "" || u.Seq <= 0 {
		return fmt.Errorf("%w: missing actor or seq", ErrInvalidUpdate)
	}
	if d.seen[u.Actor][u.Seq] {
		return nil
	}
	for _, op := range u.Ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("update %s/%d: %w", u.Actor, u.Seq, err)
		}
	}

	tx := newTxn(d, Origin{Actor: u.Actor, Source: SourceRemote})
	d.txn = tx
	for _, op := range u.Ops {
		tx.touch(op.Coll, op.Key)
		tx.note(op)
		d.clock.Witness(op.maxClock())
		d.apply(op)
	}
	tx.ops = u.Ops
	d.txn = nil

	if u.Actor == d.Actor() && u.Seq > d.seq {
		d.seq = u.Seq
	}
	d.logger.Debug("applied remote update",
		"actor", u.Actor,
		"seq", u.Seq,
		"ops", len(u.Ops))
	d.commit(tx, &u)
	return nil
}

// commit records the update, then dispatches handlers in order:
// update handlers, collection events, transaction observers.
func (d *Doc) commit(tx *Txn, remote *Update) {
	if remote != nil {
		d.record(*remote)
	} else if len(tx.ops) > 0 {
		d.seq++
		u := Update{Actor: d.Actor(), Seq: d.seq, Ops: tx.ops}
		d.record(u)
		for _, h := range d.updateHandlers {
			h(u)
		}
	}

	rec := tx.record()
	for _, coll := range Collections {
		changes := rec.Changes[coll]
		if len(changes) == 0 {
			continue
		}
		ev := Event{
			Coll:    coll,
			Origin:  tx.origin,
			Keys:    slices.Sorted(maps.Keys(changes)),
			Changes: changes,
		}
		for _, h := range d.eventHandlers[coll] {
			h(ev)
		}
	}
	if rec.Empty() {
		return
	}
	for _, h := range d.txnObservers {
		h(rec)
	}
}

func (d *Doc) record(u Update) {
	d.log = append(d.log, u)
	if d.seen[u.Actor] == nil {
		d.seen[u.Actor] = make(map[int64]bool)
	}
	d.seen[u.Actor][u.Seq] = true
	for d.seen[u.Actor][d.sv[u.Actor]+1] {
		d.sv[u.Actor]++
	}
}

func (d *Doc) apply(op Op) {
	e, ok := d.colls[op.Coll][op.Key]
	if !ok {
		e = newEntry()
		d.colls[op.Coll][op.Key] = e
	}
	switch op.Kind {
	case OpAdd:
		inc := e.incarnation(op.ID)
		inc.added = true
		if op.Coll == CollText && inc.text == nil {
			inc.text = newSequence()
		}
		for k, v := range op.Fields {
			inc.setField(k, normalizeValue(v), op.ID)
		}
	case OpSet:
		e.incarnation(op.Inc).setField(op.Field, normalizeValue(op.Value), op.ID)
	case OpDelete:
		e.incarnation(op.Inc).deleted = true
	case OpInsert:
		inc := e.incarnation(op.Inc)
		if inc.text == nil {
			inc.text = newSequence()
		}
		inc.text.insert(op.After, op.ID, op.Text)
	case OpRemove:
		inc := e.incarnation(op.Inc)
		if inc.text == nil {
			inc.text = newSequence()
		}
		inc.text.remove(op.Targets)
	}
}

// normalizeValue stores every number as float64 so values compare the
// same whether they were written locally or decoded from JSON.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func normalizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = normalizeValue(v)
	}
	return out
}
