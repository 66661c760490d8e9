// Package tools is the conversational surface of the scheduler. Every
// operation returns a sentence for the assistant to speak; failures are
// rendered as text and never returned as errors.
package tools

import (
	"context"
	"errors"
	"time"

	"chime/internal/alarm"
	"chime/internal/task/schedule"
	"chime/internal/timer"
	"chime/pkg/logx"
)

// Resolver maps a spoken location ("kitchen") to a device entity id.
type Resolver interface {
	Resolve(ctx context.Context, location string) (string, error)
}

type Deps struct {
	Timers   *timer.Service
	Alarms   *alarm.Service
	Resolver Resolver
	Calc     *schedule.Calculator
	Log      logx.Logger
	Now      func() time.Time
}

type Tools struct {
	timers   *timer.Service
	alarms   *alarm.Service
	resolver Resolver
	calc     *schedule.Calculator
	log      logx.Logger
	now      func() time.Time
}

func New(d Deps) *Tools {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Calc == nil {
		d.Calc = schedule.New(time.Local)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Tools{
		timers:   d.Timers,
		alarms:   d.Alarms,
		resolver: d.Resolver,
		calc:     d.Calc,
		log:      d.Log,
		now:      d.Now,
	}
}

type conversationKey struct{}

// WithConversation tags ctx with the conversation a tool call came from.
// Deferred actions replay into that conversation.
func WithConversation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, id)
}

func conversation(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

func (t *Tools) resolve(ctx context.Context, location string) (string, error) {
	if t.resolver == nil {
		if location == "" {
			return "", errNoLocation
		}
		return location, nil
	}
	return t.resolver.Resolve(ctx, location)
}

var errNoLocation = errors.New("no location given")
