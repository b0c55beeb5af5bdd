// Package discovery finds Thread Border Routers that are advertising an
// ephemeral commissioning window.
//
// A border router in commissioning mode publishes the mDNS service
// _meshcop-e._udp with the ephemeral commissioner port in its SRV
// record. The browser resolves instances to (host, port) candidates and
// hands the first usable one to the commissioning flow.
//
// Address selection prefers IPv4: the secure transport uses the
// connected-UDP idiom, and IPv4 is what border routers are observed to
// answer on. Instances that resolve only to IPv6 are treated as not
// found.
package discovery
