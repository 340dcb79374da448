package contacts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

type state struct {
	store  *Store
	events *core.Broadcaster
}

func (st *state) contactsChanged(reason ChangeReason, contacts ContactList) {
	topic := core.Topic{Event: EventContactsChange}
	if !st.events.Listening(topic) {
		return
	}
	st.events.Broadcast(topic, &ContactsChangeEvent{Reason: reason, Contacts: contacts})
}

func (st *state) blockedNumberChanged(reason ChangeReason, number string) {
	topic := core.Topic{Event: EventBlockedNumberChange}
	if !st.events.Listening(topic) {
		return
	}
	st.events.Broadcast(topic, &BlockedNumberChangeEvent{Reason: reason, Number: number})
}

// Factory creates contacts service instances over one store.
type Factory struct {
	shared *core.Shared[state]
	pool   *core.WorkerPool
	logger *slog.Logger
}

// NewFactory creates a factory serving store. Store work runs on pool,
// which the factory owns from then on.
func NewFactory(store *Store, pool *core.WorkerPool, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "contacts")
	return &Factory{
		shared: core.NewShared(state{store: store, events: core.NewBroadcaster(Events, logger)}),
		pool:   pool,
		logger: logger,
	}
}

// Create implements core.ServiceFactory.
func (f *Factory) Create(origin *core.OriginAttributes, _ *core.SessionContext, support *core.SessionSupport) (core.Service, error) {
	s := &Service{
		shared: f.shared,
		pool:   f.pool,
		logger: support.Logger(),
	}
	s.subs = core.NewSubscriptions(support, Events, func(fn func(b *core.Broadcaster) error) error {
		return f.shared.With(func(st *state) error { return fn(st.events) })
	})
	s.logger.Debug("contacts instance created", "identity", origin.Identity())
	return s, nil
}

// Listeners returns the number of event registrations across sessions.
func (f *Factory) Listeners() int {
	n, _ := core.Read(f.shared, func(st *state) int { return st.events.Len() })
	return n
}

// Close stops the worker pool after its queued tasks finish.
func (f *Factory) Close() {
	f.pool.Close()
}

// Service is one session's instance of the contacts service. It tracks no
// objects; its events are emitted on object 0.
type Service struct {
	shared *core.Shared[state]
	pool   *core.WorkerPool
	subs   *core.Subscriptions
	logger *slog.Logger
}

type operation func(ctx context.Context, st *state) (protocol.Encodable, error)

// OnRequest implements core.Service.
func (s *Service) OnRequest(ctx context.Context, req *core.Request) error {
	r, err := DecodeRequest(req.Message.Content)
	if err != nil {
		return err
	}

	switch r := r.(type) {
	case *ClearContactsRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "clear contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			return protocol.Empty{}, st.store.Clear(ctx)
		})

	case *AddRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "add contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			added, err := st.store.Add(ctx, r.Contacts)
			if err != nil {
				return nil, err
			}
			st.contactsChanged(ReasonCreate, added)
			ids := make(stringList, len(added))
			for i := range added {
				ids[i] = added[i].ID
			}
			return ids, nil
		})

	case *UpdateRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "update contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			updated, err := st.store.Update(ctx, r.Contacts)
			if err != nil {
				return nil, err
			}
			st.contactsChanged(ReasonUpdate, updated)
			return protocol.Empty{}, nil
		})

	case *RemoveRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "remove contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			ids, err := st.store.Remove(ctx, r.IDs)
			if err != nil {
				return nil, err
			}
			if len(ids) > 0 {
				removed := make(ContactList, len(ids))
				for i, id := range ids {
					removed[i].ID = id
				}
				st.contactsChanged(ReasonRemove, removed)
			}
			return protocol.Empty{}, nil
		})

	case *GetRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "get contact", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			c, err := st.store.Get(ctx, r.ID, r.OnlyMainData)
			if err != nil {
				return nil, err
			}
			return &c, nil
		})

	case *GetAllRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "get all contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			return nilOnError(st.store.GetAll(ctx, r.SortBy, r.Order))
		})

	case *GetCountRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "get contacts count", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			n, err := st.store.Count(ctx)
			return count(n), err
		})

	case *FindRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "find contacts", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			return nilOnError(st.store.Find(ctx, r.FilterBy, r.FilterOption, r.Value))
		})

	case *AddBlockedNumberRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "add blocked number", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			if err := st.store.AddBlockedNumber(ctx, r.Number); err != nil {
				return nil, err
			}
			st.blockedNumberChanged(ReasonCreate, r.Number)
			return protocol.Empty{}, nil
		})

	case *RemoveBlockedNumberRequest:
		return s.run(ctx, req, r.Tag(), PermWrite, "remove blocked number", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			if err := st.store.RemoveBlockedNumber(ctx, r.Number); err != nil {
				return nil, err
			}
			st.blockedNumberChanged(ReasonRemove, r.Number)
			return protocol.Empty{}, nil
		})

	case *GetAllBlockedNumbersRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "get blocked numbers", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			numbers, err := st.store.BlockedNumbers(ctx)
			if err != nil {
				return nil, err
			}
			return stringList(numbers), nil
		})

	case *FindBlockedNumbersRequest:
		return s.run(ctx, req, r.Tag(), PermRead, "find blocked numbers", func(ctx context.Context, st *state) (protocol.Encodable, error) {
			numbers, err := st.store.FindBlockedNumbers(ctx, r.FilterOption, r.Value)
			if err != nil {
				return nil, err
			}
			return stringList(numbers), nil
		})
	}
	return protocol.InvalidTag("ContactsRequest", r.Tag())
}

func nilOnError(l ContactList, err error) (protocol.Encodable, error) {
	if err != nil {
		return nil, err
	}
	return l, nil
}

// run checks perm, then executes op on the worker pool with the shared
// state held and answers with its result or the error variant.
func (s *Service) run(ctx context.Context, req *core.Request, tag uint32, perm, name string, op operation) error {
	if !req.Authorize(perm, name) {
		return nil
	}

	task := func() {
		var result protocol.Encodable
		err := s.shared.With(func(st *state) error {
			var err error
			result, err = op(ctx, st)
			return err
		})
		if err != nil {
			s.fail(req, tag, name, err)
			return
		}
		_ = req.Responder.Respond(successTag(tag), result)
	}
	if err := s.pool.Submit(task); err != nil {
		s.fail(req, tag, name, err)
	}
	return nil
}

func (s *Service) fail(req *core.Request, tag uint32, name string, err error) {
	reason := reasonOf(err)
	if reason == ReasonDatabaseError {
		s.logger.Error("contacts request failed", "operation", name, "error", err)
	} else {
		s.logger.Info("contacts request rejected", "operation", name, "reason", reason.String(), "error", err)
	}
	_ = req.Responder.Respond(errorTag(tag), &ContactsError{Reason: reason})
}

func reasonOf(err error) ErrorReason {
	switch {
	case errors.Is(err, ErrInvalidContactID):
		return ReasonInvalidContactID
	case errors.Is(err, ErrInvalidFilterOption), errors.Is(err, ErrInvalidSortOption):
		return ReasonInvalidFilterOption
	case errors.Is(err, core.ErrPoolFull), errors.Is(err, core.ErrPoolClosed):
		return ReasonUnavailable
	}
	switch core.StoreKind(err) {
	case core.StoreConflict:
		return ReasonAlreadyExists
	case core.StoreNotFound:
		return ReasonNotFound
	}
	return ReasonDatabaseError
}

// ReleaseObject implements core.Service. The service hands out no objects,
// so it only drops event subscriptions of objectID.
func (s *Service) ReleaseObject(objectID uint32) bool {
	if err := s.subs.ReleaseObject(objectID); err != nil {
		s.logger.Error("release object failed", "object", objectID, "error", err)
	}
	return false
}

// TrackedObjects implements core.Service.
func (s *Service) TrackedObjects() []uint32 { return nil }

// EnableEvent implements core.EventSource. Events live on object 0.
func (s *Service) EnableEvent(objectID uint32, event core.EventID) (bool, error) {
	if objectID != 0 {
		return false, nil
	}
	return s.subs.Enable(objectID, event)
}

// DisableEvent implements core.EventSource.
func (s *Service) DisableEvent(objectID uint32, event core.EventID) (bool, error) {
	return s.subs.Disable(objectID, event)
}

// Close implements core.Service.
func (s *Service) Close() error {
	return s.subs.Close()
}
