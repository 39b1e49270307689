// Package n6 is the intake side of a security incident exchange
// pipeline: collectors pull abuse feeds and publish fresh rows to a
// JetStream bus, the parser normalizes rows into canonical events with
// per-source schemas, and the filter routes events to client
// organizations by matching their criteria.
//
// The pipeline is split into three binaries wired over NATS JetStream:
//
//   - cmd/n6collector: one collector component per configured feed,
//     publishing fresh rows at the raw stage and committing collection
//     state only after the broker acknowledges the publish.
//   - cmd/n6parser: consumes raw snippets, applies the schema bound to
//     each (source, format version) pair, republishes events at the
//     parsed stage.
//   - cmd/n6filter: consumes parsed events, matches them against
//     per-organization criteria held in a KV bucket, republishes with
//     the routing result attached at the filtered stage.
//
// Routing keys follow <event-type>.<stage>.<source>, so each stage of
// the pipeline binds with a single subject pattern and per-source
// provenance survives end to end.
package n6
