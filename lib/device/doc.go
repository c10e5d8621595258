// Package device discovers the devices that take part in synchronization.
//
// ICommunicationProvider is the boundary to the network layer. StaticProvider
// keeps a configured peer list and is used for single node deployments and
// tests. RedisProvider lets every node publish a presence key and broadcast
// online/offline events through redis pub/sub.
package device
