package noti

//TestNotifier keeps published events in memory for inspection.
type TestNotifier struct {
	Events chan *Event
}

func NewTestNotifier(args []string) (Notifier, error) {
	return &TestNotifier{Events: make(chan *Event, 100)}, nil
}

func (rn *TestNotifier) NewNotification() chan *Event {
	return rn.Events
}
