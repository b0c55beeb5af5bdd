// Package meshcop encodes and decodes Thread MeshCoP management TLVs:
// the Get request sent to a border router and the Active Operational
// Dataset it returns.
//
// Dataset parsing is a forward scan over (type, length, value) records
// driven by a table of per-type decoders. It is total: any byte string
// yields a Dataset in bounded time. Unknown TLV types are skipped, a
// record whose declared length overruns the payload terminates the scan,
// and a record whose length disagrees with its type is dropped while the
// scan continues.
package meshcop
