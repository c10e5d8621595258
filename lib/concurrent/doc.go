/*
Package concurrent provides Map, a generic thread-safe map used for observer
registries and handle tables.

Map is a thin layer over xsync.MapOf with the vocabulary the service code uses:
Insert replaces, Emplace only adds, ComputeIfPresent updates or removes in place.

	observers := concurrent.NewMap[string, Observer]()
	if !observers.Emplace(name, observer) {
	    // already registered
	}
*/
package concurrent
