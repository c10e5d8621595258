// Package permission contains the permission policy of the data service:
// bundle allow-lists, the pluggable sync permission check and the registry of
// applications that want permission change notifications.
package permission
