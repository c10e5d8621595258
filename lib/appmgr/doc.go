// Package appmgr manages the open stores of a single application.
package appmgr
