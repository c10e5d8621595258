package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/common"
)

// maxQueuedDeviceEvents bounds the device events kept for a client that does not poll.
const maxQueuedDeviceEvents = 1024

// clientSession is the server side state of one client stub, identified by its token.
// It is alive as long as the client sends requests within the lease.
type clientSession struct {
	token    string
	lastSeen atomic.Int64 // unix nano

	mu sync.Mutex
	// observers are the death observers registered per app, they die with the session
	observers map[string]*kvstore.LocalRemoteObject
	events    []common.DeviceEvent
	dropped   int
	listener  *sessionListener
}

func newClientSession(token string, now time.Time) *clientSession {
	s := &clientSession{token: token, observers: map[string]*kvstore.LocalRemoteObject{}}
	s.listener = &sessionListener{s: s}
	s.touch(now)
	return s
}

func (s *clientSession) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *clientSession) expired(now time.Time, lease time.Duration) bool {
	return now.Sub(time.Unix(0, s.lastSeen.Load())) > lease
}

// observer returns a fresh remote object for appId, replacing a previous one.
func (s *clientSession) observer(appId string) *kvstore.LocalRemoteObject {
	obj := kvstore.NewLocalRemoteObject()
	s.mu.Lock()
	s.observers[appId] = obj
	s.mu.Unlock()
	return obj
}

// die kills every observer of the session, which runs the death recipients.
func (s *clientSession) die() {
	s.mu.Lock()
	observers := s.observers
	s.observers = map[string]*kvstore.LocalRemoteObject{}
	s.mu.Unlock()

	for _, obj := range observers {
		obj.Die()
	}
}

func (s *clientSession) push(ev common.DeviceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= maxQueuedDeviceEvents {
		s.events = s.events[1:]
		s.dropped++
	}
	s.events = append(s.events, ev)
}

// drain returns and clears the queued events.
func (s *clientSession) drain() []common.DeviceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	if s.dropped > 0 {
		log.Warningf("client %s missed %d device events", s.token, s.dropped)
		s.dropped = 0
	}
	return events
}

// sessionListener queues device events for the client of its session.
type sessionListener struct {
	s *clientSession
}

func (l *sessionListener) OnChange(info kvstore.DeviceInfo, changeType kvstore.DeviceChangeType) {
	l.s.push(common.DeviceEvent{Device: info, Change: changeType})
}
