package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/wire"
)

// PresenceFormat selects the shape of the userlist payload.
type PresenceFormat string

const (
	// PresenceMap publishes a JSON object of uid -> display name, the
	// original wire shape.
	PresenceMap PresenceFormat = "map"
	// PresenceNames publishes a JSON array of display names, sorted.
	PresenceNames PresenceFormat = "names"
)

// Stats is a point-in-time view of routing outcomes.
type Stats struct {
	Delivered    uint64
	Dropped      uint64
	TargetMisses uint64
}

// Router decides, for every inbound envelope, who receives it and in what
// transformed form. Registry mutation on join/leave is a side effect of
// dispatch. Delivery is best effort: failed or untargeted deliveries are
// counted, never surfaced to the sender.
type Router struct {
	log            *slog.Logger
	registry       *Registry
	presenceFormat PresenceFormat
	censor         func(string) string
	now            func() time.Time

	delivered    atomic.Uint64
	dropped      atomic.Uint64
	targetMisses atomic.Uint64
}

// NewRouter builds a router over the given registry. censor is applied to
// message text before fan-out; nil disables moderation.
func NewRouter(log *slog.Logger, registry *Registry, format PresenceFormat, censor func(string) string) *Router {
	if format != PresenceNames {
		format = PresenceMap
	}
	if censor == nil {
		censor = func(s string) string { return s }
	}
	return &Router{
		log:            log,
		registry:       registry,
		presenceFormat: format,
		censor:         censor,
		now:            time.Now,
	}
}

// Dispatch routes one decoded envelope on behalf of the sending session.
// Unknown kinds are ignored, as is anything other than join while the
// session is still unnamed.
func (r *Router) Dispatch(sender *Session, env domain.Envelope) {
	switch env.Type {
	case domain.KindJoin:
		r.handleJoin(sender, env)
	case domain.KindMsg:
		r.handleMsg(sender, env)
	case domain.KindPrivateMsg:
		r.handlePrivate(sender, env)
	case domain.KindStartTyping, domain.KindStopTyping:
		r.handleTyping(sender, env)
	case domain.KindLeave:
		// No direct fan-out. Closing the connection unblocks the read
		// loop, whose teardown performs the departure broadcast once.
		sender.Close()
	default:
		r.log.Debug("ignoring unrecognized envelope kind", "kind", env.Type, "uid", sender.UID)
	}
}

func (r *Router) handleJoin(sender *Session, env domain.Envelope) {
	if sender.State() != domain.Pending {
		return
	}
	if err := ValidateDisplayName(env.From); err != nil {
		r.log.Debug("rejecting join", "uid", sender.UID, "err", err)
		return
	}
	if !sender.Promote(env.From) {
		return
	}
	r.registry.Register(sender)
	r.log.Info("session joined", "uid", sender.UID, "name", sender.Name())

	r.Broadcast(domain.SystemNotice(fmt.Sprintf("%s joined the chat", sender.Name())))
	r.BroadcastUserList()
}

func (r *Router) handleMsg(sender *Session, env domain.Envelope) {
	if sender.State() != domain.Joined {
		return
	}
	env.FromUID = sender.UID
	env.From = sender.Name()
	env.Text = r.censor(env.Text)
	// The sender receives its own message too, so everyone shares one
	// ordering of the room.
	r.Broadcast(env)
}

func (r *Router) handlePrivate(sender *Session, env domain.Envelope) {
	if sender.State() != domain.Joined {
		return
	}
	target, ok := r.registry.Lookup(env.To)
	if !ok {
		r.record(domain.TargetNotFound)
		r.log.Debug("private message target not found", "uid", sender.UID, "to", env.To)
		return
	}
	env.FromUID = sender.UID
	env.From = sender.Name()
	env.Text = r.censor(env.Text)

	frame, err := wire.Encode(env.Stamp(r.now()))
	if err != nil {
		r.log.Error("encoding private message", "err", err)
		return
	}
	r.record(target.Enqueue(frame))
	// Echo an identical copy so the sender sees its own private message.
	r.record(sender.Enqueue(frame))
}

func (r *Router) handleTyping(sender *Session, env domain.Envelope) {
	if sender.State() != domain.Joined {
		return
	}
	env.FromUID = sender.UID
	env.From = sender.Name()

	frame, err := wire.Encode(env.Stamp(r.now()))
	if err != nil {
		r.log.Error("encoding typing envelope", "err", err)
		return
	}

	if env.To == "" {
		// Typing indicators go to everyone but the typist.
		for _, s := range r.registry.Snapshot() {
			if s.UID == sender.UID {
				continue
			}
			r.record(s.Enqueue(frame))
		}
		return
	}
	target, ok := r.registry.Lookup(env.To)
	if !ok {
		r.record(domain.TargetNotFound)
		return
	}
	r.record(target.Enqueue(frame))
}

// Broadcast stamps, encodes once, and fans one envelope out to every
// registered session. Recipients are fixed by a registry snapshot; a
// session removed mid-broadcast absorbs the frame harmlessly.
func (r *Router) Broadcast(env domain.Envelope) {
	frame, err := wire.Encode(env.Stamp(r.now()))
	if err != nil {
		r.log.Error("encoding broadcast", "err", err)
		return
	}
	for _, s := range r.registry.Snapshot() {
		r.record(s.Enqueue(frame))
	}
}

// BroadcastUserList publishes the current presence list to every
// registered session.
func (r *Router) BroadcastUserList() {
	payload, err := r.presencePayload()
	if err != nil {
		r.log.Error("encoding presence payload", "err", err)
		return
	}
	r.Broadcast(domain.UserList(payload))
}

// AnnounceDeparture runs after a joined session's teardown unregistered it.
func (r *Router) AnnounceDeparture(name string) {
	r.Broadcast(domain.SystemNotice(fmt.Sprintf("%s left the chat", name)))
	r.BroadcastUserList()
}

// presencePayload serializes the membership in the configured shape. Both
// shapes round-trip from the same sorted presence list.
func (r *Router) presencePayload() (string, error) {
	entries := r.registry.PresenceList()

	var payload any
	switch r.presenceFormat {
	case PresenceNames:
		payload = lo.Map(entries, func(p Presence, _ int) string { return p.Name })
	default:
		payload = lo.SliceToMap(entries, func(p Presence) (string, string) { return p.UID, p.Name })
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *Router) record(res domain.DeliveryResult) {
	switch res {
	case domain.Delivered:
		r.delivered.Add(1)
	case domain.TargetNotFound:
		r.targetMisses.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// Statistics reports routing outcome counters since startup.
func (r *Router) Statistics() Stats {
	return Stats{
		Delivered:    r.delivered.Load(),
		Dropped:      r.dropped.Load(),
		TargetMisses: r.targetMisses.Load(),
	}
}
