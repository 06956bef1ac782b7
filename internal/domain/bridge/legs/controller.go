// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package legs creates, re-routes and hangs up the individual calls of a bridge.
package legs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/ports"
	"github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/metrics"
	"github.com/ManuGH/pstnbridge/internal/telemetry"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

var (
	// ErrRequestFailed wraps every failed create, transfer or hangup request.
	ErrRequestFailed = errors.New("collaborator request failed")
	// ErrQueryFailed wraps every failed status query.
	ErrQueryFailed = errors.New("collaborator query failed")
)

// Config carries the addresses and numbers legs are placed with.
type Config struct {
	// PublicBaseURL is where the platform reaches this service's callbacks.
	PublicBaseURL string
	// ProcessorHost is the media processor host websocket legs stream to.
	ProcessorHost string
	// ServiceNumber is the caller id of telephone legs.
	ServiceNumber string
}

// Controller drives individual legs on the call platform.
type Controller struct {
	platform      ports.CallPlatform
	urls          URLBuilder
	processorHost string
	serviceNumber string
}

func NewController(p ports.CallPlatform, cfg Config) *Controller {
	return &Controller{
		platform:      p,
		urls:          NewURLBuilder(cfg.PublicBaseURL),
		processorHost: cfg.ProcessorHost,
		serviceNumber: cfg.ServiceNumber,
	}
}

// URLs returns the callback URL builder.
func (c *Controller) URLs() URLBuilder { return c.urls }

// CreateLeg places the leg for role using the values recorded in s.
func (c *Controller) CreateLeg(ctx context.Context, role model.LegRole, s *model.Session) (string, error) {
	p := ParamsFor(s)
	switch role {
	case model.LegMediaA:
		return c.CreateMediaLeg(ctx, role, MediaTargetURI(c.processorHost, role, s.Context), s.Context.Callee1, p)
	case model.LegMediaB:
		return c.CreateMediaLeg(ctx, role, MediaTargetURI(c.processorHost, role, s.Context), s.Context.Callee2, p)
	case model.LegPhoneA:
		return c.CreatePhoneLeg(ctx, role, s.Context.Callee1, p)
	case model.LegPhoneB:
		return c.CreatePhoneLeg(ctx, role, s.Context.Callee2, p)
	}
	return "", fmt.Errorf("create %q: %w", role, model.ErrUnknownRole)
}

// CreateMediaLeg opens a websocket leg to targetURI presenting fromNumber as caller id.
func (c *Controller) CreateMediaLeg(ctx context.Context, role model.LegRole, targetURI, fromNumber string, p Params) (string, error) {
	return c.create(ctx, role, vonage.WebsocketEndpoint(targetURI), fromNumber, p)
}

// CreatePhoneLeg dials number from the service number.
func (c *Controller) CreatePhoneLeg(ctx context.Context, role model.LegRole, number string, p Params) (string, error) {
	return c.create(ctx, role, vonage.PhoneEndpoint(number), c.serviceNumber, p)
}

func (c *Controller) create(ctx context.Context, role model.LegRole, to vonage.Endpoint, from string, p Params) (id string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "leg.create", telemetry.LegAttributes(p.SessionID, string(role), "")...)
	defer func() { telemetry.EndSpan(span, err) }()

	req := vonage.CreateCallRequest{
		To:           []vonage.Endpoint{to},
		From:         vonage.PhoneEndpoint(from),
		AnswerURL:    []string{c.urls.AnswerURL(role, p)},
		AnswerMethod: http.MethodGet,
		EventURL:     []string{c.urls.EventURL(role, p)},
		EventMethod:  http.MethodPost,
	}
	resp, err := c.platform.CreateCall(ctx, req)
	if err != nil {
		metrics.RecordLegCreate(string(role), "error")
		return "", fmt.Errorf("create %s leg: %w: %w", role, ErrRequestFailed, err)
	}
	metrics.RecordLegCreate(string(role), "success")

	logger := log.WithComponentFromContext(ctx, "legs")
	logger.Info().
		Str(log.FieldEvent, "leg.created").
		Str(log.FieldLegRole, string(role)).
		Str(log.FieldLegID, resp.UUID).
		Str(log.FieldLegStatus, resp.Status).
		Msg("leg created")
	return resp.UUID, nil
}

// BuildJoinDirective returns the single-conversation directive that joins a
// leg into conference with the given routing. Empty routing sets are rendered
// as empty lists, never omitted.
func BuildJoinDirective(conference string, canSpeakTo, canHearFrom []string, endOnExit bool) model.Directive {
	return model.Directive{model.ConversationAction{
		Action:       "conversation",
		Name:         conference,
		CanSpeak:     nonNil(canSpeakTo),
		CanHear:      nonNil(canHearFrom),
		StartOnEnter: true,
		EndOnExit:    endOnExit,
	}}
}

func nonNil(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ApplyDirective replaces the routing of a connected leg. A leg that has
// already ended is treated as satisfied.
func (c *Controller) ApplyDirective(ctx context.Context, legID string, d model.Directive) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "leg.route", telemetry.LegAttributes("", "", legID)...)
	defer func() { telemetry.EndSpan(span, err) }()

	err = c.platform.Transfer(ctx, legID, d)
	if err != nil && !vonage.IsGone(err) {
		return fmt.Errorf("apply directive to %s: %w: %w", legID, ErrRequestFailed, err)
	}
	return nil
}

// Terminate hangs up a leg. It reports whether the leg was already gone.
func (c *Controller) Terminate(ctx context.Context, legID string) (alreadyGone bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "leg.terminate", telemetry.LegAttributes("", "", legID)...)
	defer func() { telemetry.EndSpan(span, err) }()

	err = c.platform.Hangup(ctx, legID)
	switch {
	case err == nil:
		return false, nil
	case vonage.IsGone(err):
		return true, nil
	default:
		return false, fmt.Errorf("terminate %s: %w: %w", legID, ErrRequestFailed, err)
	}
}

// Status returns the current platform status of a leg. A leg the platform no
// longer knows is reported as completed.
func (c *Controller) Status(ctx context.Context, legID string) (model.CallStatus, error) {
	info, err := c.platform.GetCall(ctx, legID)
	if err != nil {
		if errors.Is(err, vonage.ErrNotFound) {
			return model.StatusCompleted, nil
		}
		return "", fmt.Errorf("status of %s: %w: %w", legID, ErrQueryFailed, err)
	}
	return model.CallStatus(info.Status), nil
}
