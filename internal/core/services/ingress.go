package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

type IIngressService interface {
	// HandleOpen tracks the fresh session and sends the connected frame.
	HandleOpen(ctx context.Context, s contracts.Session) error
	// HandleFrame applies one inbound frame to the session state machine.
	// A *domain.ProtocolViolationError return tells the caller to close
	// the connection with a policy-violation status.
	HandleFrame(ctx context.Context, s contracts.Session, raw []byte) error
	// HandleDisconnect purges the session from the registry once the
	// transport is gone.
	HandleDisconnect(ctx context.Context, s contracts.Session)
}

var tracer = otel.Tracer("ingress-service")

type IngressService struct {
	registry contracts.Registry
	log      *slog.Logger
}

func NewIngressService(log *slog.Logger, registry contracts.Registry) *IngressService {
	return &IngressService{
		log:      log,
		registry: registry,
	}
}

func (i *IngressService) HandleOpen(ctx context.Context, s contracts.Session) error {
	frame := domain.ConnectedFrame{Type: domain.TypeConnected, ClientID: s.ID()}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	i.registry.Track(s)
	if err := s.Send(ctx, data); err != nil {
		i.log.ErrorContext(ctx, "ingress - handle open - connected frame failed", "session", s.ID(), "err", err)
		return err
	}
	i.log.InfoContext(ctx, "ingress - handle open - session connected", "session", s.ID())
	return nil
}

func (i *IngressService) HandleFrame(ctx context.Context, s contracts.Session, raw []byte) error {
	switch s.State() {
	case domain.StatePending:
		return i.register(ctx, s, raw)
	case domain.StateRegistered:
		return i.dispatch(ctx, s, raw)
	default:
		return domain.ErrSessionClosed
	}
}

// register admits the first frame of a session. Anything other than a
// well-formed register request is a protocol violation and costs the
// client its connection.
func (i *IngressService) register(ctx context.Context, s contracts.Session, raw []byte) error {
	ctx, span := tracer.Start(ctx, "IngressService.Register", trace.WithAttributes(
		attribute.String("session", s.ID()),
	))
	defer span.End()
	var req domain.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed register frame")
		return domain.NewProtocolViolation("first message must be a register request", err)
	}
	if req.Type != domain.TypeRegister || req.UserID == "" {
		span.SetStatus(codes.Error, "unexpected first frame")
		return domain.NewProtocolViolation("first message must be a register request", domain.ErrMalformedMessage)
	}
	if err := i.registry.Register(req.UserID, s); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register rejected")
		i.log.ErrorContext(ctx, "ingress - register - registry rejected session", "session", s.ID(), "user_id", req.UserID, "err", err)
		return domain.NewProtocolViolation("registration rejected", err)
	}
	span.SetAttributes(attribute.String("user_id", req.UserID))
	i.sendAck(ctx, s, domain.RegisteredAck{Type: domain.TypeRegistered, UserID: req.UserID})
	span.SetStatus(codes.Ok, "registered")
	i.log.InfoContext(ctx, "ingress - register - session registered", "session", s.ID(), "user_id", req.UserID)
	return nil
}

// dispatch handles frames after registration. Only job subscriptions
// are meaningful; unknown shapes are ignored so older servers keep
// tolerating newer clients.
func (i *IngressService) dispatch(ctx context.Context, s contracts.Session, raw []byte) error {
	var req domain.SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Action != domain.ActionSubscribe || req.JobID == "" {
		i.log.DebugContext(ctx, "ingress - dispatch - ignoring unrecognized frame", "session", s.ID())
		return nil
	}
	ctx, span := tracer.Start(ctx, "IngressService.Subscribe", trace.WithAttributes(
		attribute.String("session", s.ID()),
		attribute.String("job_id", req.JobID),
	))
	defer span.End()
	i.registry.SubscribeJob(req.JobID, s)
	i.sendAck(ctx, s, domain.SubscribedAck{Type: domain.TypeSubscribed, JobID: req.JobID})
	i.log.InfoContext(ctx, "ingress - dispatch - job subscription added", "session", s.ID(), "job_id", req.JobID)
	return nil
}

func (i *IngressService) HandleDisconnect(ctx context.Context, s contracts.Session) {
	i.registry.Remove(s)
	i.log.InfoContext(ctx, "ingress - handle disconnect - session removed",
		"session", s.ID(), "user_id", s.UserID(), "state", s.State().String())
}

// sendAck is fire-and-forget: if the socket cannot take the ack the
// read side will notice the dead transport on its own.
func (i *IngressService) sendAck(ctx context.Context, s contracts.Session, ack any) {
	data, err := json.Marshal(ack)
	if err != nil {
		i.log.ErrorContext(ctx, "ingress - send ack - marshal failed", "session", s.ID(), "err", err)
		return
	}
	if err := s.Send(ctx, data); err != nil {
		i.log.WarnContext(ctx, "ingress - send ack - send failed", "session", s.ID(), "err", err)
	}
}
