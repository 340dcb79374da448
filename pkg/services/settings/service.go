package settings

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// observer is the local stand-in for an observer object a client holds.
type observer struct {
	name       string
	dispatcher core.DispatcherID
}

// Service is one session's instance of the settings service.
type Service struct {
	origin  *core.OriginAttributes
	cache   *core.SessionContext
	support *core.SessionSupport
	shared  *core.Shared[state]
	pool    *core.WorkerPool
	subs    *core.Subscriptions

	mu        sync.Mutex // serializes observer registration and release
	observers *core.ObjectTracker[*observer]
	closed    bool

	logger *slog.Logger
}

// OnRequest implements core.Service.
func (s *Service) OnRequest(ctx context.Context, req *core.Request) error {
	r, err := DecodeRequest(req.Message.Content)
	if err != nil {
		return err
	}

	switch r := r.(type) {
	case *ClearRequest:
		return s.clear(ctx, req)
	case *GetRequest:
		return s.get(ctx, req, r.Name)
	case *SetRequest:
		return s.set(ctx, req, r.Settings)
	case *GetBatchRequest:
		return s.getBatch(ctx, req, r.Names)
	case *AddObserverRequest:
		return s.addObserver(req, r.Name)
	case *RemoveObserverRequest:
		return s.removeObserver(req, r.Name, r.Observer)
	}
	return protocol.InvalidTag("SettingsRequest", r.Tag())
}

// submit runs task on the worker pool. When the pool refuses it the
// request is answered with the error variant instead.
func (s *Service) submit(req *core.Request, errTag uint32, errPayload protocol.Encodable, task func()) error {
	if err := s.pool.Submit(task); err != nil {
		s.logger.Warn("settings request refused", "request", req.Message.RequestID, "error", err)
		return req.Responder.Respond(errTag, errPayload)
	}
	return nil
}

func (s *Service) clear(ctx context.Context, req *core.Request) error {
	if !req.Authorize(PermWrite, "clear settings") {
		return nil
	}
	return s.submit(req, TagClearError, protocol.Empty{}, func() {
		err := s.shared.With(func(st *state) error {
			if err := st.store.Clear(ctx); err != nil {
				return err
			}
			s.cache.DeletePrefix(cachePrefix)
			return nil
		})
		if err != nil {
			s.logger.Error("clear failed", "error", err)
			_ = req.Responder.Respond(TagClearError, protocol.Empty{})
			return
		}
		_ = req.Responder.Respond(TagClearSuccess, protocol.Empty{})
	})
}

func (s *Service) get(ctx context.Context, req *core.Request, name string) error {
	if !req.Authorize(PermRead, "get setting") {
		return nil
	}
	if v, ok := s.cache.Get(cacheKey(name)); ok {
		return req.Responder.Respond(TagGetSuccess, &SettingInfo{Name: name, Value: protocol.JSONValue(v)})
	}

	unknown := &GetError{Name: name, Reason: UnknownError}
	return s.submit(req, TagGetError, unknown, func() {
		var value protocol.JSONValue
		err := s.shared.With(func(st *state) error {
			var err error
			if value, err = st.store.Get(ctx, name); err != nil {
				return err
			}
			s.cache.Set(cacheKey(name), string(value))
			return nil
		})
		switch {
		case err == nil:
			_ = req.Responder.Respond(TagGetSuccess, &SettingInfo{Name: name, Value: value})
		case core.StoreKind(err) == core.StoreNotFound:
			_ = req.Responder.Respond(TagGetError, &GetError{Name: name, Reason: NonExistingSetting})
		default:
			s.logger.Error("get failed", "name", name, "error", err)
			_ = req.Responder.Respond(TagGetError, unknown)
		}
	})
}

func (s *Service) set(ctx context.Context, req *core.Request, settings SettingList) error {
	if !req.Authorize(PermWrite, "set settings") {
		return nil
	}
	return s.submit(req, TagSetError, protocol.Empty{}, func() {
		err := s.shared.With(func(st *state) error {
			changed, err := st.store.Set(ctx, settings)
			if err != nil {
				return err
			}
			notifyChanges(st.events, s.cache, changed)
			return nil
		})
		if err != nil {
			s.logger.Error("set failed", "count", len(settings), "error", err)
			_ = req.Responder.Respond(TagSetError, protocol.Empty{})
			return
		}
		_ = req.Responder.Respond(TagSetSuccess, protocol.Empty{})
	})
}

// notifyChanges refreshes the cache and fans every changed setting out to
// change listeners and to the observers of its name.
func notifyChanges(events *core.Broadcaster, cache *core.SessionContext, changed SettingList) {
	listening := events.Listening(core.Topic{Event: EventChange})
	for i := range changed {
		info := &changed[i]
		cache.Set(cacheKey(info.Name), string(info.Value))
		if listening {
			events.Broadcast(core.Topic{Event: EventChange, Name: info.Name}, info)
		}
		events.Broadcast(core.Topic{Event: EventObserver, Name: info.Name}, info)
	}
}

func (s *Service) getBatch(ctx context.Context, req *core.Request, names []string) error {
	if !req.Authorize(PermRead, "get batch of settings") {
		return nil
	}
	return s.submit(req, TagGetBatchError, protocol.Empty{}, func() {
		var list SettingList
		err := s.shared.With(func(st *state) error {
			var err error
			list, err = st.store.GetBatch(ctx, names)
			return err
		})
		if err != nil {
			s.logger.Error("get batch failed", "count", len(names), "error", err)
			_ = req.Responder.Respond(TagGetBatchError, protocol.Empty{})
			return
		}
		_ = req.Responder.Respond(TagGetBatchSuccess, list)
	})
}

func (s *Service) addObserver(req *core.Request, name string) error {
	if !req.Authorize(PermRead, "add setting observer") {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("observer refused on closed instance", "name", name)
		return req.Responder.Respond(TagAddObserverError, protocol.Empty{})
	}
	obs := &observer{name: name}
	id, err := s.observers.Track(obs)
	if err != nil {
		return err
	}
	dispatcher := core.NewEventDispatcher(s.support, id)
	err = s.shared.With(func(st *state) error {
		var err error
		obs.dispatcher, err = st.events.Add(core.Topic{Event: EventObserver, Name: name}, dispatcher)
		return err
	})
	if err != nil {
		s.observers.Release(id)
		if core.IsFatal(err) {
			return err
		}
		s.logger.Error("add observer failed", "name", name, "error", err)
		return req.Responder.Respond(TagAddObserverError, protocol.Empty{})
	}

	s.logger.Debug("observer added", "name", name, "object", id)
	return req.Responder.Respond(TagAddObserverSuccess, objectID(id))
}

func (s *Service) removeObserver(req *core.Request, name string, id uint32) error {
	if !req.Authorize(PermRead, "remove setting observer") {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obs, ok := s.observers.Get(id)
	if !ok || obs.name != name {
		s.logger.Warn("remove of unknown observer", "name", name, "object", id)
		return req.Responder.Respond(TagRemoveObserverError, protocol.Empty{})
	}
	s.observers.Release(id)
	if err := s.detach(id, obs); err != nil {
		return err
	}
	return req.Responder.Respond(TagRemoveObserverSuccess, protocol.Empty{})
}

// detach removes everything registered for the observer object id.
func (s *Service) detach(id uint32, obs *observer) error {
	err := s.shared.With(func(st *state) error {
		st.events.Remove(obs.dispatcher)
		return nil
	})
	if err != nil {
		return err
	}
	return s.subs.ReleaseObject(id)
}

// ReleaseObject implements core.Service.
func (s *Service) ReleaseObject(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs, ok := s.observers.Get(id)
	if !ok {
		return false
	}
	s.observers.Release(id)
	if err := s.detach(id, obs); err != nil {
		s.logger.Error("release observer failed", "object", id, "error", err)
	}
	return true
}

// TrackedObjects implements core.Service.
func (s *Service) TrackedObjects() []uint32 {
	return s.observers.IDs()
}

// EnableEvent implements core.EventSource. Only EventChange on object 0 can
// be toggled; observers receive their events once added.
func (s *Service) EnableEvent(objectID uint32, event core.EventID) (bool, error) {
	if objectID != 0 || event != EventChange {
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
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	remaining := s.observers.Drain()
	err := s.shared.With(func(st *state) error {
		for _, obs := range remaining {
			st.events.Remove(obs.dispatcher)
		}
		return nil
	})
	if subErr := s.subs.Close(); err == nil {
		err = subErr
	}
	s.logger.Debug("settings instance closed", "observers", len(remaining))
	return err
}
