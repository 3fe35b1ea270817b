package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/channel"
	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/handoff"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"go.uber.org/zap"
)

// Channel is the slice of the realtime client the directory drives.
type Channel interface {
	Connect(channel.Identity) error
	Disconnect()
	On(event string, h channel.Handler)
	OnStateChange(cb func(channel.State))
	Emit(event string, payload interface{}) error
	State() channel.State
}

// Backend is the REST boundary of the tuition backend.
type Backend interface {
	ListLiveClasses(ctx context.Context) ([]model.LiveClassRecord, error)
	StartLiveClass(ctx context.Context, desc model.ClassDescriptor) (*model.LiveClassRecord, error)
	EndLiveClass(ctx context.Context, recordID string) error
}

// MeetingStore persists handoff records for classroom reconstruction.
type MeetingStore interface {
	Put(rec model.MeetingRecord) error
	Delete(roomName string) error
}

// Snapshot is the read view handed to subscribers and dashboard handlers.
type Snapshot struct {
	Roster          []model.LiveClassRecord `json:"liveClasses"`
	Current         *model.LiveClassRecord  `json:"currentClass"`
	ConnectionState string                  `json:"connectionState"`
}

type joinResult struct {
	rec     *model.LiveClassRecord
	message string
	ok      bool
}

// Directory is the authoritative local view of what is live right now and
// what the local user is in. The roster and current pointer are mutated only
// here, from intent confirmations and channel callbacks; views read snapshots
// and call intents.
type Directory struct {
	identity channel.Identity
	ch       Channel
	api      Backend
	rooms    *handoff.Rooms
	store    MeetingStore
	timeout  time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	roster    map[string]*model.LiveClassRecord
	current   *model.LiveClassRecord
	connState channel.State
	pending   map[string]struct{}
	joinWait  chan joinResult
	subs      map[chan Snapshot]struct{}
}

// New creates a directory bound to one identity. Call Start to connect.
func New(id channel.Identity, ch Channel, api Backend, rooms *handoff.Rooms, store MeetingStore, timeout time.Duration, log *zap.Logger) *Directory {
	return &Directory{
		identity: id,
		ch:       ch,
		api:      api,
		rooms:    rooms,
		store:    store,
		timeout:  timeout,
		log:      log,
		roster:   make(map[string]*model.LiveClassRecord),
		pending:  make(map[string]struct{}),
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// Start wires the channel callbacks and opens the connection. The first
// transition to connected triggers a roster refresh, so no separate initial
// fetch is needed.
func (d *Directory) Start() error {
	d.ch.On(model.EventLiveClassesUpdate, d.onRosterUpdate)
	d.ch.On(model.EventClassStarted, d.onClassStarted)
	d.ch.On(model.EventClassEnded, d.onClassEnded)
	d.ch.On(model.EventJoinClassSuccess, d.onJoinSuccess)
	d.ch.On(model.EventJoinClassError, d.onJoinError)
	d.ch.OnStateChange(d.onStateChange)

	if err := d.ch.Connect(d.identity); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	return nil
}

// Stop releases the channel connection.
func (d *Directory) Stop() {
	d.ch.Disconnect()
}

// Identity returns the identity the directory acts for.
func (d *Directory) Identity() channel.Identity { return d.identity }

// StartClass starts a live class for the local teacher, or returns the
// existing handoff ticket when a matching session is already live. The roster
// is only touched after the backend confirms; a guess is never written into
// server-sourced state.
func (d *Directory) StartClass(ctx context.Context, subject, cohort string) (handoff.JoinReference, error) {
	probe := model.LiveClassRecord{Subject: subject, Cohort: cohort, TeacherID: d.identity.ID}
	key := probe.Key()

	d.mu.Lock()
	if rec := d.findLiveByKeyLocked(key); rec != nil {
		room := rec.RoomName
		d.mu.Unlock()
		d.log.Info("class already live, returning existing ticket",
			zap.String("subject", subject), zap.String("class", cohort), zap.String("room", room))
		return d.rooms.BuildJoinReference(room, d.identity.Name, d.identity.Role, nil), nil
	}
	if _, busy := d.pending["start|"+key]; busy {
		d.mu.Unlock()
		return handoff.JoinReference{}, errs.ErrIntentPending
	}
	d.pending["start|"+key] = struct{}{}
	d.mu.Unlock()
	defer d.clearPending("start|" + key)

	room := d.rooms.GenerateRoomName(subject, cohort, d.identity.ID)
	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	rec, err := d.api.StartLiveClass(rctx, model.ClassDescriptor{
		Subject:   subject,
		Cohort:    cohort,
		TeacherID: d.identity.ID,
		Teacher:   d.identity.Name,
		RoomName:  room,
	})
	if err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return handoff.JoinReference{}, fmt.Errorf("%w: %w", errs.ErrStartFailed, errs.ErrIntentTimeout)
		}
		return handoff.JoinReference{}, err
	}
	if rec.RoomName == "" {
		rec.RoomName = room
	}

	d.mu.Lock()
	stored := d.upsertLocked(rec)
	d.current = stored
	room = stored.RoomName
	start := stored.StartTime
	d.mu.Unlock()
	d.notify()

	d.persistMeeting(room, subject, cohort, start)
	d.log.Info("class started",
		zap.String("id", stored.ID), zap.String("subject", subject),
		zap.String("class", cohort), zap.String("room", room))
	return d.rooms.BuildJoinReference(room, d.identity.Name, d.identity.Role, nil), nil
}

// EndClass requests termination of a live class. A concurrent end by another
// actor ("already ended") is a benign race and is treated as success.
func (d *Directory) EndClass(ctx context.Context, recordID string) error {
	d.mu.Lock()
	rec, known := d.roster[recordID]
	if !known {
		d.mu.Unlock()
		return fmt.Errorf("%w: %w: %s", errs.ErrEndFailed, errs.ErrClassNotFound, recordID)
	}
	if _, busy := d.pending["end|"+recordID]; busy {
		d.mu.Unlock()
		return errs.ErrIntentPending
	}
	d.pending["end|"+recordID] = struct{}{}
	room := rec.RoomName
	d.mu.Unlock()
	defer d.clearPending("end|" + recordID)

	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	switch err := d.api.EndLiveClass(rctx, recordID); {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyEnded):
		d.log.Info("class was already ended elsewhere", zap.String("id", recordID))
	case rctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %w", errs.ErrEndFailed, errs.ErrIntentTimeout)
	default:
		return err
	}

	d.mu.Lock()
	delete(d.roster, recordID)
	if d.current != nil && d.current.ID == recordID {
		d.current = nil
	}
	d.mu.Unlock()
	d.notify()

	if room != "" {
		if err := d.store.Delete(room); err != nil {
			d.log.Warn("meeting record cleanup failed", zap.String("room", room), zap.Error(err))
		}
	}
	d.log.Info("class ended", zap.String("id", recordID))
	return nil
}

// JoinClass asks the backend to admit the local user into a live class. On
// rejection the server message is surfaced and the current session stays
// unchanged. The request is emitted even when the record is locally unknown —
// the backend, not the roster, decides.
func (d *Directory) JoinClass(ctx context.Context, recordID string) (handoff.JoinReference, error) {
	d.mu.Lock()
	if d.joinWait != nil {
		d.mu.Unlock()
		return handoff.JoinReference{}, errs.ErrIntentPending
	}
	waiter := make(chan joinResult, 1)
	d.joinWait = waiter
	d.mu.Unlock()

	if err := d.ch.Emit(model.EventJoinLiveClass, model.JoinClassPayload{ClassID: recordID}); err != nil {
		d.clearJoinWait(waiter)
		return handoff.JoinReference{}, err
	}

	var res joinResult
	select {
	case res = <-waiter:
	case <-time.After(d.timeout):
		d.clearJoinWait(waiter)
		return handoff.JoinReference{}, errs.ErrIntentTimeout
	case <-ctx.Done():
		d.clearJoinWait(waiter)
		return handoff.JoinReference{}, ctx.Err()
	}

	if !res.ok || res.rec == nil {
		d.log.Warn("join rejected", zap.String("id", recordID), zap.String("message", res.message))
		return handoff.JoinReference{}, &errs.JoinRejected{Message: res.message}
	}

	d.mu.Lock()
	stored := d.upsertLocked(res.rec)
	d.current = stored
	room := stored.RoomName
	subject := stored.Subject
	cohort := stored.Cohort
	start := stored.StartTime
	d.mu.Unlock()
	d.notify()

	d.persistMeeting(room, subject, cohort, start)
	d.log.Info("joined class", zap.String("id", stored.ID), zap.String("room", room))
	return d.rooms.BuildJoinReference(room, d.identity.Name, d.identity.Role, nil), nil
}

// LeaveClass clears the current session locally. Leaving is always permitted
// and leaving twice is a no-op.
func (d *Directory) LeaveClass() {
	d.mu.Lock()
	if d.current == nil {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.mu.Unlock()
	d.notify()
	d.log.Info("left class")
}

// Roster returns a copy of the known records, live first, newest first.
func (d *Directory) Roster() []model.LiveClassRecord {
	d.mu.Lock()
	out := make([]model.LiveClassRecord, 0, len(d.roster))
	for _, rec := range d.roster {
		out = append(out, *rec)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLive != out[j].IsLive {
			return out[i].IsLive
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Current returns a copy of the session the local user is in, or nil.
func (d *Directory) Current() *model.LiveClassRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	cp := *d.current
	return &cp
}

// ConnectionState reports the channel state for the degraded-state banner.
func (d *Directory) ConnectionState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connState.String()
}

// Subscribe registers a snapshot listener and returns the channel plus a
// cleanup function. Slow listeners drop snapshots rather than block.
func (d *Directory) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	cancel := func() {
		d.mu.Lock()
		if _, ok := d.subs[ch]; ok {
			delete(d.subs, ch)
			close(ch)
		}
		d.mu.Unlock()
	}
	return ch, cancel
}

// --- channel callbacks ---

func (d *Directory) onRosterUpdate(data json.RawMessage) {
	var list []model.LiveClassRecord
	if err := json.Unmarshal(data, &list); err != nil {
		d.log.Warn("undecodable roster update", zap.Error(err))
		return
	}
	if d.ch.State() != channel.StateConnected {
		d.log.Warn("roster snapshot received while channel is not connected; applying anyway")
	}
	d.reconcileSnapshot(list)
}

func (d *Directory) onClassStarted(data json.RawMessage) {
	var p model.ClassEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.log.Warn("undecodable classStarted", zap.Error(err))
		return
	}
	if !p.Success || p.LiveClass == nil {
		return
	}
	d.mu.Lock()
	stored := d.upsertLocked(p.LiveClass)
	d.mu.Unlock()
	d.notify()
	d.log.Debug("class started broadcast",
		zap.String("id", stored.ID), zap.String("subject", stored.Subject))
}

func (d *Directory) onClassEnded(data json.RawMessage) {
	var p model.ClassEndedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		d.log.Warn("undecodable classEnded", zap.Error(err))
		return
	}
	d.mu.Lock()
	_, known := d.roster[p.ID]
	delete(d.roster, p.ID)
	if d.current != nil && d.current.ID == p.ID {
		d.current = nil
	}
	d.mu.Unlock()
	if known {
		d.notify()
	}
	d.log.Debug("class ended broadcast", zap.String("id", p.ID))
}

func (d *Directory) onJoinSuccess(data json.RawMessage) {
	var p model.ClassEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.log.Warn("undecodable joinClassSuccess", zap.Error(err))
		return
	}
	d.deliverJoin(joinResult{rec: p.LiveClass, ok: p.Success, message: p.Message})
}

func (d *Directory) onJoinError(data json.RawMessage) {
	var p model.JoinErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.log.Warn("undecodable joinClassError", zap.Error(err))
		return
	}
	d.deliverJoin(joinResult{message: p.Message})
}

func (d *Directory) deliverJoin(res joinResult) {
	d.mu.Lock()
	waiter := d.joinWait
	d.joinWait = nil
	d.mu.Unlock()
	if waiter == nil {
		d.log.Debug("join result with no pending join, ignored")
		return
	}
	waiter <- res
}

func (d *Directory) onStateChange(s channel.State) {
	d.mu.Lock()
	prev := d.connState
	d.connState = s
	d.mu.Unlock()
	d.notify()
	if s == channel.StateConnected && prev != channel.StateConnected {
		go d.refreshRoster()
	}
	if s == channel.StateDisconnected && prev == channel.StateConnected {
		d.log.Warn("channel down, live status may be stale")
	}
}

// refreshRoster pulls the full roster over REST after (re)connecting, so the
// local state is replaced rather than merged with whatever went stale while
// the channel was down.
func (d *Directory) refreshRoster() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	list, err := d.api.ListLiveClasses(ctx)
	if err != nil {
		d.log.Warn("roster refresh failed", zap.Error(err))
		return
	}
	d.reconcileSnapshot(list)
}

// reconcileSnapshot deterministically replaces the roster with a full backend
// snapshot. A snapshot entry that looks like a record already known locally
// (same subject/cohort/teacher, both live, different id) keeps the local id
// and takes the snapshot's mutable fields, so views don't remount on a race.
// Unexported on purpose: the roster is only ever written from channel
// callbacks and confirmed intents, never by a view holding the directory.
func (d *Directory) reconcileSnapshot(list []model.LiveClassRecord) {
	d.mu.Lock()
	out := make(map[string]*model.LiveClassRecord, len(list))
	byKey := make(map[string]*model.LiveClassRecord, len(list))
	for _, in := range list {
		rec := in
		if rec.IsLive {
			if local := d.findLiveByKeyLocked(rec.Key()); local != nil && local.ID != rec.ID {
				rec.ID = local.ID
			}
			if prev, dup := byKey[rec.Key()]; dup {
				mergeMutable(prev, &rec)
				continue
			}
		}
		p := new(model.LiveClassRecord)
		*p = rec
		out[p.ID] = p
		if p.IsLive {
			byKey[p.Key()] = p
		}
	}
	d.roster = out
	if d.current != nil {
		switch {
		case out[d.current.ID] != nil && out[d.current.ID].IsLive:
			d.current = out[d.current.ID]
		case byKey[d.current.Key()] != nil:
			d.current = byKey[d.current.Key()]
		default:
			// the session we were in is gone from the authoritative roster
			d.current = nil
		}
	}
	d.mu.Unlock()
	d.notify()
}

// --- internals ---

// upsertLocked merges a confirmed record into the roster, enforcing at most
// one live record per (subject, cohort, teacher) triple. Returns the stored
// record, which may carry a previously known id.
func (d *Directory) upsertLocked(rec *model.LiveClassRecord) *model.LiveClassRecord {
	cp := *rec
	if existing, ok := d.roster[cp.ID]; ok {
		mergeMutable(existing, &cp)
		return existing
	}
	if cp.IsLive {
		if local := d.findLiveByKeyLocked(cp.Key()); local != nil {
			mergeMutable(local, &cp)
			return local
		}
	}
	p := &cp
	d.roster[p.ID] = p
	return p
}

func (d *Directory) findLiveByKeyLocked(key string) *model.LiveClassRecord {
	for _, rec := range d.roster {
		if rec.IsLive && rec.Key() == key {
			return rec
		}
	}
	return nil
}

// mergeMutable copies the fields the backend may legitimately change for a
// running session. Identity fields (subject, cohort, teacher id) stay put.
func mergeMutable(dst, src *model.LiveClassRecord) {
	dst.Participants = src.Participants
	dst.IsLive = src.IsLive
	if src.Teacher != "" {
		dst.Teacher = src.Teacher
	}
	if src.RoomName != "" {
		dst.RoomName = src.RoomName
	}
	if !src.StartTime.IsZero() {
		dst.StartTime = src.StartTime
	}
}

func (d *Directory) clearPending(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

func (d *Directory) clearJoinWait(waiter chan joinResult) {
	d.mu.Lock()
	if d.joinWait == waiter {
		d.joinWait = nil
	}
	d.mu.Unlock()
}

func (d *Directory) persistMeeting(room, subject, cohort string, start time.Time) {
	if room == "" {
		return
	}
	if start.IsZero() {
		start = time.Now()
	}
	err := d.store.Put(model.MeetingRecord{
		RoomName:    room,
		DisplayName: d.identity.Name,
		Subject:     subject,
		Cohort:      cohort,
		Role:        string(d.identity.Role),
		StartTime:   start,
	})
	if err != nil {
		d.log.Warn("meeting record persist failed", zap.String("room", room), zap.Error(err))
	}
}

func (d *Directory) notify() {
	d.mu.Lock()
	snap := Snapshot{
		Roster:          make([]model.LiveClassRecord, 0, len(d.roster)),
		ConnectionState: d.connState.String(),
	}
	for _, rec := range d.roster {
		snap.Roster = append(snap.Roster, *rec)
	}
	if d.current != nil {
		cp := *d.current
		snap.Current = &cp
	}
	sort.Slice(snap.Roster, func(i, j int) bool { return snap.Roster[i].ID < snap.Roster[j].ID })
	// Sends stay under d.mu: Subscribe's cancel closes the channel under the
	// same lock, so a send can never race a close.
	for ch := range d.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber, drop this snapshot
		}
	}
	d.mu.Unlock()
}
