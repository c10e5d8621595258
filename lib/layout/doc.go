// Package layout maps store identities to directories on disk.
//
// Every store lives in one of two protection classes, device encrypted (DE) and
// credential encrypted (CE). Deleting a device account removes
// DeviceAccountDir in both classes, which includes the data, backups and secret
// key files of that account.
package layout
