package noti

import (
	"encoding/json"
	"fmt"
	"kbmigrate/logger"
	"kbmigrate/server/errors"
	"sync"
	"time"
)

var protocols []string

type Protocol int

func (p Protocol) String() (string, bool) {
	if i := int(p); i <= 0 || i > len(protocols) {
		return "", false
	} else {
		return protocols[i-1], true
	}
}
func protocol_iota(s string) Protocol {
	protocols = append(protocols, s)
	return Protocol(len(protocols))
}

func asProtocol(name string) (Protocol, bool) {
	for i := range protocols {
		if protocols[i] == name {
			return Protocol(i + 1), true
		}
	}
	return Protocol(0), false
}

var (
	REST = protocol_iota("REST")
	TEST = protocol_iota("TEST")
)

func (p *Protocol) MarshalJSON() ([]byte, error) {
	if s, ok := p.String(); ok {
		return json.Marshal(s)
	} else {
		return nil, errors.NewValidationError("ErrJsonMarshal", fmt.Sprintf("Incorrect protocol: %v", *p), nil)
	}
}
func (p *Protocol) UnmarshalJSON(b []byte) error {
	var s string
	if e := json.Unmarshal(b, &s); e != nil {
		return e
	}
	if protocol, ok := asProtocol(s); ok {
		*p = protocol
		return nil
	} else {
		return errors.NewValidationError("ErrJsonUnmarshal", fmt.Sprintf("Incorrect protocol: %s", s), nil)
	}
}

var NotifierFactories = map[Protocol]Factory{
	REST: NewRestNotifier,
	TEST: NewTestNotifier,
}

//Migration actions published to subscribers
const (
	ActionExportStarted    = "export_started"
	ActionExportClosed     = "export_closed"
	ActionArtifactUploaded = "artifact_uploaded"
	ActionArtifactDeleted  = "artifact_deleted"
	ActionDataPurged       = "data_purged"
)

type NotiError struct {
	code string
	msg  string
}

func (e *NotiError) Error() string {
	return fmt.Sprintf("Notification error:  code='%s'  msg = '%s'", e.code, e.msg)
}

func (e *NotiError) Json() []byte {
	j, _ := json.Marshal(map[string]string{
		"code": "noti:" + e.code,
		"msg":  e.msg,
	})
	return j
}

func NewNotiError(code string, msg string, a ...interface{}) *NotiError {
	return &NotiError{code: code, msg: fmt.Sprintf(msg, a...)}
}

type Event struct {
	obj map[string]interface{}
	err error
}

func (e Event) Obj() map[string]interface{} {
	return e.obj
}

func (e Event) Action() string {
	action, _ := e.obj["action"].(string)
	return action
}

func NewObjectEvent(notificationObject map[string]interface{}) *Event {
	return &Event{obj: notificationObject}
}

//NewMigrationEvent wraps data into {"action", "data", "timestamp"}.
func NewMigrationEvent(action string, data map[string]interface{}) *Event {
	return NewObjectEvent(map[string]interface{}{
		"action":    action,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func NewErrorEvent(err error) *Event {
	return &Event{err: err}
}

type Notifier interface {
	NewNotification() chan *Event
}

type Factory func(args []string) (Notifier, error)

func fan_out(in chan *Event, out chan *Event) {
	defer func() {
		close(out)
	}()
	for obj := range in {
		out <- obj
	}
}

func Broadcast(notifier Notifier) chan *Event {
	in := make(chan *Event, 100)
	out := notifier.NewNotification()
	go fan_out(in, out)
	return in
}

//Hub publishes migration events. A nil Hub drops everything.
type Hub struct {
	mutex  sync.RWMutex
	in     chan *Event
	closed bool
}

func NewHub(protocol Protocol, args ...string) (*Hub, error) {
	factory, ok := NotifierFactories[protocol]
	if !ok {
		return nil, NewNotiError("unknown_protocol", "Unknown notification protocol: %d", int(protocol))
	}
	notifier, err := factory(args)
	if err != nil {
		return nil, err
	}
	return NewNotifierHub(notifier), nil
}

func NewNotifierHub(notifier Notifier) *Hub {
	return &Hub{in: Broadcast(notifier)}
}

//Publish never blocks the migration: when the buffer is full the event is dropped.
func (h *Hub) Publish(action string, data map[string]interface{}) {
	if h == nil {
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.closed {
		logger.Warn("Notifications are closed, '%s' event dropped", action)
		return
	}
	select {
	case h.in <- NewMigrationEvent(action, data):
	default:
		logger.Warn("Notification buffer is full, '%s' event dropped", action)
	}
}

//Close stops accepting events; the buffered ones are still delivered. Closing twice is a no-op.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.closed {
		h.closed = true
		close(h.in)
	}
}
