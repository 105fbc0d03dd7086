package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/pkg/logging"
)

var tracer = otel.Tracer("event-router")

// auditQueueSize bounds records waiting on the audit writer. A full
// queue drops records rather than delaying the routing loop.
const auditQueueSize = 256

// Channels names the bus channels the router consumes. Screen-call and
// problem-done events are addressed to users; job updates go to the
// single session subscribed to the job.
type Channels struct {
	ScreenCall  string
	ProblemDone string
	JobUpdate   string
}

// EventRouter lifts events off the bus and fans them out through the
// registry. Delivery is fire-and-forget: an event that cannot be
// parsed or finds no recipient is counted and dropped, never retried.
type EventRouter struct {
	log      *slog.Logger
	bus      contracts.EventBus
	registry contracts.Registry
	audit    domain.DeliveryRepository // nil disables the audit trail
	auditCh  chan *domain.Delivery
	channels Channels

	mu    sync.Mutex
	stats domain.RouterStats
}

func NewEventRouter(
	log *slog.Logger,
	bus contracts.EventBus,
	registry contracts.Registry,
	audit domain.DeliveryRepository,
	channels Channels,
) contracts.EventRouter {
	r := &EventRouter{
		log:      log,
		bus:      bus,
		registry: registry,
		audit:    audit,
		channels: channels,
	}
	if audit != nil {
		r.auditCh = make(chan *domain.Delivery, auditQueueSize)
	}
	return r
}

func (r *EventRouter) Run(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx, r.channels.ScreenCall, r.channels.ProblemDone, r.channels.JobUpdate)
	if err != nil {
		return fmt.Errorf("subscribe to event bus: %w", err)
	}
	r.log.InfoContext(ctx, "router - run - subscribed to bus",
		"screen_call", r.channels.ScreenCall,
		"problem_done", r.channels.ProblemDone,
		"job_update", r.channels.JobUpdate)
	if r.audit != nil {
		auditCtx, stopAudit := context.WithCancel(ctx)
		defer stopAudit()
		go r.auditLoop(auditCtx)
	}
	for {
		select {
		case <-ctx.Done():
			r.log.InfoContext(ctx, "router - run - stopped")
			return nil
		case msg, ok := <-events:
			if !ok {
				r.log.InfoContext(ctx, "router - run - bus channel closed")
				return nil
			}
			r.route(ctx, msg)
		}
	}
}

func (r *EventRouter) route(ctx context.Context, msg contracts.BusMessage) {
	r.bump(func(s *domain.RouterStats) { s.Received++ })
	switch msg.Channel {
	case r.channels.ScreenCall:
		r.routeToUser(ctx, domain.EventNewScreenCall, msg.Payload, true)
	case r.channels.ProblemDone:
		r.routeToUser(ctx, domain.EventProblemDone, msg.Payload, false)
	case r.channels.JobUpdate:
		r.routeToJob(ctx, msg.Payload)
	default:
		r.log.WarnContext(ctx, "router - route - event on unexpected channel", logging.Channel(msg.Channel))
	}
}

// routeToUser rewrites the event for the wire and fans it out to every
// session the user holds. The userId routing key is consumed here: it
// stays in the payload only when the event kind promises it to clients.
func (r *EventRouter) routeToUser(ctx context.Context, kind string, raw []byte, keepUserID bool) {
	ctx, span := tracer.Start(ctx, "EventRouter.RouteToUser", trace.WithAttributes(
		attribute.String("kind", kind),
	))
	defer span.End()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed event")
		r.parseFailure(ctx, kind, err)
		return
	}
	var userID string
	if rawID, ok := fields["userId"]; ok {
		_ = json.Unmarshal(rawID, &userID)
	}
	if userID == "" {
		span.SetStatus(codes.Error, "missing routing key")
		r.parseFailure(ctx, kind, fmt.Errorf("%w: missing userId", domain.ErrMalformedMessage))
		return
	}
	if !keepUserID {
		delete(fields, "userId")
	}
	kindJSON, _ := json.Marshal(kind)
	fields["type"] = kindJSON
	payload, err := json.Marshal(fields)
	if err != nil {
		span.RecordError(err)
		r.parseFailure(ctx, kind, err)
		return
	}

	span.SetAttributes(attribute.String("user_id", userID))
	delivered := r.registry.SendToUser(ctx, userID, payload)
	span.SetAttributes(attribute.Int("recipients", delivered))
	r.finish(ctx, kind, userID, delivered, payload)
}

// routeToJob forwards the payload byte-for-byte to whichever session
// currently owns the job subscription.
func (r *EventRouter) routeToJob(ctx context.Context, raw []byte) {
	ctx, span := tracer.Start(ctx, "EventRouter.RouteToJob", trace.WithAttributes(
		attribute.String("kind", domain.EventJobUpdate),
	))
	defer span.End()

	var key struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(raw, &key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed event")
		r.parseFailure(ctx, domain.EventJobUpdate, err)
		return
	}
	if key.JobID == "" {
		span.SetStatus(codes.Error, "missing routing key")
		r.parseFailure(ctx, domain.EventJobUpdate, fmt.Errorf("%w: missing jobId", domain.ErrMalformedMessage))
		return
	}

	span.SetAttributes(attribute.String("job_id", key.JobID))
	delivered := 0
	if r.registry.SendToJob(ctx, key.JobID, raw) {
		delivered = 1
	}
	span.SetAttributes(attribute.Int("recipients", delivered))
	r.finish(ctx, domain.EventJobUpdate, key.JobID, delivered, raw)
}

// finish settles the counters and audit trail for one routed event. A
// zero recipient count is routine: the addressee simply is not
// connected to this node right now.
func (r *EventRouter) finish(ctx context.Context, kind, routingKey string, delivered int, payload []byte) {
	r.bump(func(s *domain.RouterStats) {
		s.Routed++
		s.Delivered += int64(delivered)
		if delivered == 0 {
			s.NoRecipient++
		}
	})
	if delivered == 0 {
		r.log.DebugContext(ctx, "router - route - no live recipient",
			logging.Kind(kind), slog.String("routing_key", routingKey))
	} else {
		r.log.DebugContext(ctx, "router - route - event delivered",
			logging.Kind(kind), logging.Recipients(delivered))
	}
	r.recordDelivery(ctx, kind, routingKey, delivered, payload)
}

func (r *EventRouter) parseFailure(ctx context.Context, kind string, err error) {
	r.bump(func(s *domain.RouterStats) { s.ParseFailures++ })
	r.log.WarnContext(ctx, "router - route - dropping undeliverable event",
		logging.Kind(kind), logging.Err(err))
}

// recordDelivery hands the outcome to the audit writer. Auditing is
// best-effort: a full queue drops the record so the routing loop never
// waits on the store.
func (r *EventRouter) recordDelivery(ctx context.Context, kind, routingKey string, recipients int, payload []byte) {
	if r.audit == nil {
		return
	}
	select {
	case r.auditCh <- domain.NewDelivery(kind, routingKey, recipients, payload):
	default:
		r.bump(func(s *domain.RouterStats) { s.AuditDropped++ })
		r.log.WarnContext(ctx, "router - record delivery - audit queue full, dropping record",
			logging.Kind(kind), slog.String("routing_key", routingKey))
	}
}

// auditLoop drains delivery records into the store off the routing
// loop. A slow insert delays later records, not fanout.
func (r *EventRouter) auditLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.auditCh:
			if err := r.audit.RecordDelivery(ctx, d); err != nil {
				r.log.ErrorContext(ctx, "router - record delivery - audit write failed",
					logging.Kind(d.Kind), slog.String("routing_key", d.RoutingKey), logging.Err(err))
			}
		}
	}
}

func (r *EventRouter) bump(apply func(*domain.RouterStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(&r.stats)
}

func (r *EventRouter) Stats() domain.RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
