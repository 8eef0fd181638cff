package core

import (
	"context"
	"strings"
	"time"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Submit dispatches ev on its own goroutine. Transports call it for every
// decoded event.
func (e *Engine) Submit(ev message.Event) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"bot":          ev.BotID,
					"conversation": ev.ConversationID,
					"panic":        r,
				}).Error("dispatch-panic-recovered")
			}
		}()
		e.HandleEvent(e.ctx, ev)
	}()
}

// HandleEvent routes one inbound event and returns when every handler it
// triggered has finished.
//
// A private event is first relayed to every conversation listening to its
// sender. It is dispatched against its own session only when
// dispatch.private_self is set.
func (e *Engine) HandleEvent(ctx context.Context, ev message.Event) {
	start := time.Now()
	defer func() {
		dispatchDuration.Observe(time.Since(start).Seconds())
	}()
	eventsTotal.Inc()

	if e.isStale(ev) {
		logger.WithFields(logrus.Fields{
			"bot":          ev.BotID,
			"conversation": ev.ConversationID,
			"event_id":     ev.ID,
			"age":          time.Since(ev.Time).String(),
		}).Debug("stale-event-dropped")
		return
	}

	if ev.IsPrivate() {
		e.relay(ctx, ev)
		if !e.config.Dispatch.PrivateSelf {
			return
		}
	}
	e.dispatch(ctx, ev)
}

func (e *Engine) isStale(ev message.Event) bool {
	limit := e.config.Dispatch.ExcludeOlderThan
	if limit <= 0 || ev.Time.IsZero() {
		return false
	}
	return time.Since(ev.Time) > limit
}

// relay dispatches ev in every conversation of its bot listening to its
// sender. Each
// relay is independent: a failure is logged and never affects the others.
func (e *Engine) relay(ctx context.Context, ev message.Event) {
	convs := e.listeners.Listeners(ev.BotID, ev.SenderID)
	if len(convs) == 0 {
		return
	}

	logger.WithFields(logrus.Fields{
		"bot":           ev.BotID,
		"sender":        ev.SenderID,
		"conversations": len(convs),
	}).Debug("relaying-private-event")

	var g errgroup.Group
	for _, conv := range convs {
		conv := conv
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"bot":          ev.BotID,
						"conversation": conv,
						"panic":        r,
					}).Error("relay-panic-recovered")
				}
			}()
			e.dispatch(ctx, ev.Retarget(conv))
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch runs the cascade for ev against its conversation's session,
// holding the session lock throughout. It reports whether any handler ran.
func (e *Engine) dispatch(ctx context.Context, ev message.Event) bool {
	s := e.sessions.GetOrCreate(ev.BotID, ev.ConversationID, ev.Kind)
	s.Lock()
	defer s.Unlock()

	log := logger.ForConversation(ev.BotID, ev.ConversationID)
	state := s.State()
	buckets := e.registry.cascade(e.tree, state, func(t *Trigger) bool {
		return !e.pluginAllowed(s, t.Plugin)
	})
	if len(buckets) == 0 {
		return false
	}

	log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"state":    e.tree.String(state),
		"buckets":  len(buckets),
	}).Debug("dispatch-started")

	cmd := e.config.Command
	head, n := ev.Message.Head()
	ranCommand := false

	if strings.HasPrefix(head, cmd.Prefix) {
		surface := head[len(cmd.Prefix):]
		rest := ev.Message.Tail(n)
		for _, b := range buckets {
			for _, m := range b.matchCommands(surface) {
				arg := commandArgument(surface, m.command, cmd.Separator, rest)
				if !e.run(ctx, s, ev, m.trigger, m.command, m.groups, arg) {
					continue
				}
				ranCommand = true
				if m.trigger.Block {
					return true
				}
			}
		}
	}
	if ranCommand {
		return true
	}

	ranText := false
	for _, b := range buckets {
		for _, t := range b.textTriggers() {
			if !e.run(ctx, s, ev, t, "", nil, ev.Message.Clone()) {
				continue
			}
			ranText = true
			if t.Block {
				return true
			}
		}
	}
	return ranText
}

// commandArgument builds the argument message: the surface after the
// matched command with one leading separator removed, followed by the
// segments after the head.
func commandArgument(surface, command, sep string, rest message.Message) message.Message {
	remainder := surface[len(command):]
	if sep != "" {
		remainder = strings.TrimPrefix(remainder, sep)
	}
	arg := make(message.Message, 0, len(rest)+1)
	if remainder != "" {
		arg = append(arg, message.Text(remainder))
	}
	return append(arg, rest...)
}

// run resolves the trigger's inputs and invokes its handler. It reports
// whether the handler completed: a validation failure, an error or a panic
// all count as not run.
func (e *Engine) run(ctx context.Context, s *Session, ev message.Event, t *Trigger, command string, groups []string, arg message.Message) (ran bool) {
	plugin := e.Plugin(t.Plugin)
	if plugin == nil {
		return false
	}
	tokens := message.Tokenize(arg, e.config.Command.Separator)
	dc := &DispatchContext{
		Engine:  e,
		Session: s,
		Event:   ev,
		Plugin:  plugin,
		Trigger: t,
		Command: command,
		Groups:  groups,
		Arg:     arg,
		Args:    message.Strings(tokens),
		Tokens:  tokens,
		ctx:     ctx,
	}

	log := logger.ForConversation(s.BotID, s.ConversationID).WithFields(logrus.Fields{
		"plugin":  t.Plugin,
		"trigger": t.ID,
		"command": command,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("trigger-panic-recovered")
			triggerRuns.WithLabelValues(t.Plugin, resultPanic).Inc()
			ran = false
		}
	}()

	for _, in := range t.Inputs {
		switch in.Kind {
		case InputPayload:
			v, err := decodePayload(in.New, dc.Args)
			if err != nil {
				verr := &ValidationError{
					Plugin:  t.Plugin,
					Command: e.config.Command.Prefix + command,
					Usage:   payloadUsage(in.New),
					Err:     err,
				}
				log.WithField("error", verr).Info("argument-validation-failed")
				validationFailures.WithLabelValues(t.Plugin).Inc()
				triggerRuns.WithLabelValues(t.Plugin, resultRejected).Inc()
				dc.SendText(verr.Message())
				return false
			}
			dc.Payload = v
		case InputCache:
			dc.CacheValue = s.cacheValue(t.Plugin, in.Key, in.New)
		}
	}

	log.Debug("trigger-matched")
	if err := t.Handler(dc); err != nil {
		log.WithField("error", err).Error("trigger-failed")
		triggerRuns.WithLabelValues(t.Plugin, resultError).Inc()
		return false
	}
	triggerRuns.WithLabelValues(t.Plugin, resultOK).Inc()
	return true
}
