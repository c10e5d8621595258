package device

import (
	"github.com/ValentinKolb/kvds/lib/concurrent"
	"github.com/cockroachdb/errors"
)

var ErrNilObserver = errors.New("observer is nil")

// observers is the registry shared by the providers.
type observers struct {
	m *concurrent.Map[ChangeObserver, PipeInfo]
}

func newObservers() observers {
	return observers{m: concurrent.NewMap[ChangeObserver, PipeInfo]()}
}

func (o observers) add(observer ChangeObserver, pipe PipeInfo) error {
	if observer == nil {
		return ErrNilObserver
	}
	o.m.Insert(observer, pipe)
	return nil
}

func (o observers) remove(observer ChangeObserver) error {
	if observer == nil {
		return ErrNilObserver
	}
	if !o.m.Erase(observer) {
		return errors.New("observer is not registered")
	}
	return nil
}

func (o observers) notify(info BasicInfo, change ChangeType) {
	o.m.ForEach(func(observer ChangeObserver, _ PipeInfo) bool {
		observer.OnDeviceChanged(info, change)
		return true
	})
}
