// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"context"
	"errors"

	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
	"tabletalk/platform/shared/tenant"
)

// Reply is the outcome of one processed turn.
type Reply struct {
	Response      string `json:"response"`
	HasBooking    bool   `json:"has_booking"`
	ReservationID int64  `json:"reservation_id,omitempty"`

	// reprocess marks an unclear confirmation reply that should run
	// again as a fresh conversational turn.
	reprocess bool
}

// Gate is the guardrail pre-filter consulted before the core runs.
type Gate interface {
	Allow(ctx context.Context, tc *tenant.Context, text string) bool
}

// Handler is the inbound boundary consumed by the transport adapters.
type Handler struct {
	sessions SessionStore
	agent    *BookingAgent
	confirm  *ConfirmationEngine
	gate     Gate
	bundle   *i18n.Bundle
	log      *logger.Logger
}

// NewHandler wires the conversation core.
func NewHandler(sessions SessionStore, agent *BookingAgent, confirm *ConfirmationEngine, gate Gate, bundle *i18n.Bundle, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.New("assistant")
	}
	return &Handler{
		sessions: sessions,
		agent:    agent,
		confirm:  confirm,
		gate:     gate,
		bundle:   bundle,
		log:      log,
	}
}

// HandleMessage processes one inbound user message to completion. Turns
// for the same session are serialized on the session lock. AccessDenied
// propagates; every other failure becomes a localized apology.
func (h *Handler) HandleMessage(ctx context.Context, sessionID, rawText string) (*Reply, error) {
	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()

	if err := tenant.Validate(sess.Tenant); err != nil {
		return nil, err
	}

	if h.gate != nil && !h.gate.Allow(ctx, sess.Tenant, rawText) {
		h.log.Info(sess.Tenant.Restaurant.ID, sess.ID, "message blocked by guardrail", nil)
		return &Reply{Response: h.bundle.Get(sess.Language, i18n.ContextGuardrailBlocked)}, nil
	}

	sess.AppendTurn("user", rawText)

	reply, err := h.dispatch(ctx, sess, rawText)
	if err != nil {
		var denied *tenant.AccessDeniedError
		if errors.As(err, &denied) {
			return nil, err
		}
		h.log.Error(sess.Tenant.Restaurant.ID, sess.ID, "turn processing failed",
			map[string]any{"error": err.Error()})
		reply = &Reply{Response: h.bundle.Apology(sess.Language)}
	}

	sess.AppendTurn("assistant", reply.Response)
	return reply, nil
}

// dispatch routes the message to the pending sub-protocol if one exists,
// otherwise to the booking agent. An unclear confirmation reply falls
// through to the agent as a fresh turn.
func (h *Handler) dispatch(ctx context.Context, sess *Session, rawText string) (*Reply, error) {
	switch {
	case sess.PendingNameClarification() != nil:
		return h.confirm.ProcessNameClarification(ctx, sess, rawText)

	case sess.PendingConfirmation() != nil:
		reply, err := h.confirm.Process(ctx, sess, rawText)
		if err != nil {
			return nil, err
		}
		if reply.reprocess {
			return h.agent.Respond(ctx, sess)
		}
		return reply, nil

	default:
		return h.agent.Respond(ctx, sess)
	}
}
