// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testkit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/pstnbridge/internal/domain/bridge/model"
	"github.com/ManuGH/pstnbridge/internal/domain/bridge/ports"
	"github.com/ManuGH/pstnbridge/internal/vonage"
)

var _ ports.CallPlatform = (*FakePlatform)(nil)

// Call is one call placed on the fake platform.
type Call struct {
	UUID    string
	Request vonage.CreateCallRequest
	Status  string
}

// AnswerPath returns the path of the call's answer URL.
func (c Call) AnswerPath() string {
	if len(c.Request.AnswerURL) == 0 {
		return ""
	}
	u, err := url.Parse(c.Request.AnswerURL[0])
	if err != nil {
		return ""
	}
	return u.Path
}

// Transfer is one routing update received by the fake platform.
type Transfer struct {
	UUID string
	NCCO any
}

// Directive returns the transferred document as a directive, if it is one.
func (t Transfer) Directive() (model.Directive, bool) {
	d, ok := t.NCCO.(model.Directive)
	return d, ok
}

// FakePlatform is an in-memory call platform. Created calls start in status
// "started"; hung-up calls become "completed". Unknown ids answer
// vonage.ErrNotFound like the real API.
type FakePlatform struct {
	mu        sync.Mutex
	calls     map[string]*Call
	order     []string
	transfers []Transfer
	hangups   []string
	gets      []string

	createFailures int
	createErr      error
	getErr         map[string]error
	hangupErr      map[string]error
	transferErr    map[string]error

	// BeforeCreate runs outside the lock before a call is placed; a non-nil
	// error fails the create.
	BeforeCreate func(req vonage.CreateCallRequest) error
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		calls:       make(map[string]*Call),
		getErr:      make(map[string]error),
		hangupErr:   make(map[string]error),
		transferErr: make(map[string]error),
	}
}

// FailCreates makes the next n CreateCall requests fail with err.
func (p *FakePlatform) FailCreates(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createFailures = n
	p.createErr = err
}

// FailGet makes status queries for id fail with err.
func (p *FakePlatform) FailGet(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getErr[id] = err
}

// FailHangup makes hangups of id fail with err.
func (p *FakePlatform) FailHangup(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangupErr[id] = err
}

// FailTransfer makes routing updates of id fail with err.
func (p *FakePlatform) FailTransfer(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferErr[id] = err
}

// SetStatus overrides the platform status of a call, registering it if unknown.
func (p *FakePlatform) SetStatus(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.calls[id]; ok {
		c.Status = status
		return
	}
	p.calls[id] = &Call{UUID: id, Status: status}
}

func (p *FakePlatform) CreateCall(ctx context.Context, req vonage.CreateCallRequest) (vonage.CallResponse, error) {
	if hook := p.BeforeCreate; hook != nil {
		if err := hook(req); err != nil {
			return vonage.CallResponse{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return vonage.CallResponse{}, &vonage.APIError{Sentinel: vonage.ErrTimeout, Operation: vonage.OpCreateCall, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createFailures > 0 {
		p.createFailures--
		err := p.createErr
		if err == nil {
			err = &vonage.APIError{Sentinel: vonage.ErrUpstreamError, Operation: vonage.OpCreateCall, Status: 500}
		}
		return vonage.CallResponse{}, err
	}
	c := &Call{UUID: uuid.NewString(), Request: req, Status: string(model.StatusStarted)}
	p.calls[c.UUID] = c
	p.order = append(p.order, c.UUID)
	return vonage.CallResponse{UUID: c.UUID, Status: c.Status, Direction: "outbound"}, nil
}

func (p *FakePlatform) GetCall(_ context.Context, id string) (vonage.CallInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets = append(p.gets, id)
	if err := p.getErr[id]; err != nil {
		return vonage.CallInfo{}, err
	}
	c, ok := p.calls[id]
	if !ok {
		return vonage.CallInfo{}, &vonage.APIError{Sentinel: vonage.ErrNotFound, Operation: vonage.OpGetCall, Status: 404}
	}
	return vonage.CallInfo{UUID: c.UUID, Status: c.Status}, nil
}

func (p *FakePlatform) Hangup(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hangupErr[id]; err != nil {
		return err
	}
	c, ok := p.calls[id]
	if !ok {
		return &vonage.APIError{Sentinel: vonage.ErrNotFound, Operation: vonage.OpHangup, Status: 404}
	}
	p.hangups = append(p.hangups, id)
	if model.CallStatus(c.Status).IsTerminal() {
		return &vonage.APIError{Sentinel: vonage.ErrCallInactive, Operation: vonage.OpHangup, Status: 400}
	}
	c.Status = string(model.StatusCompleted)
	return nil
}

func (p *FakePlatform) Transfer(_ context.Context, id string, ncco any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transferErr[id]; err != nil {
		return err
	}
	c, ok := p.calls[id]
	if !ok {
		return &vonage.APIError{Sentinel: vonage.ErrNotFound, Operation: vonage.OpTransfer, Status: 404}
	}
	if model.CallStatus(c.Status).IsTerminal() {
		return &vonage.APIError{Sentinel: vonage.ErrCallInactive, Operation: vonage.OpTransfer, Status: 400}
	}
	p.transfers = append(p.transfers, Transfer{UUID: id, NCCO: ncco})
	return nil
}

// Calls returns the placed calls in creation order.
func (p *FakePlatform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.calls[id])
	}
	return out
}

// CallByAnswerPath returns the first placed call whose answer URL has path.
func (p *FakePlatform) CallByAnswerPath(path string) (Call, bool) {
	for _, c := range p.Calls() {
		if c.AnswerPath() == path {
			return c, true
		}
	}
	return Call{}, false
}

// CountByAnswerPath counts placed calls whose answer URL has path.
func (p *FakePlatform) CountByAnswerPath(path string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.AnswerPath() == path {
			n++
		}
	}
	return n
}

// Transfers returns every routing update in arrival order.
func (p *FakePlatform) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transfer(nil), p.transfers...)
}

// TransfersTo returns the routing updates sent to id.
func (p *FakePlatform) TransfersTo(id string) []Transfer {
	var out []Transfer
	for _, t := range p.Transfers() {
		if t.UUID == id {
			out = append(out, t)
		}
	}
	return out
}

// Hangups returns the ids hung up, in order. Requests against already
// ended calls are included.
func (p *FakePlatform) Hangups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hangups...)
}

// HungUp reports whether a hangup was requested for id.
func (p *FakePlatform) HungUp(id string) bool {
	for _, h := range p.Hangups() {
		if h == id {
			return true
		}
	}
	return false
}

// Queries returns the ids whose status was queried.
func (p *FakePlatform) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.gets...)
}

// QueryParam returns a query value of the call's answer URL.
func (c Call) QueryParam(key string) string {
	if len(c.Request.AnswerURL) == 0 {
		return ""
	}
	i := strings.IndexByte(c.Request.AnswerURL[0], '?')
	if i < 0 {
		return ""
	}
	q, err := url.ParseQuery(c.Request.AnswerURL[0][i+1:])
	if err != nil {
		return ""
	}
	return q.Get(key)
}
