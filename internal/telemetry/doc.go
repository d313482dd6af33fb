// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records what happened to each turn.
//
// The engine emits one TurnEvent per sub-turn attempt. Recorders decide what
// to do with it: Stats aggregates counters for the /stats endpoint, and
// AMQPPublisher forwards events to a RabbitMQ queue.
//
// # Key Types
//
//   - TurnEvent: Outcome of one sub-turn
//   - Recorder: Sink for turn events
//   - Stats: In-memory counters per model and per error kind
//   - AMQPPublisher: Publishes events as JSON to a durable queue
//   - Multi: Fans an event out to several recorders
//
// # Usage
//
//	stats := telemetry.NewStats()
//	pub, err := telemetry.DialAMQP(url, "backroom.turns")
//	rec := telemetry.Multi{stats, pub}
//
// # Privacy
//
// Events carry ids, model names, timings and error kinds. Message content
// and credentials are never included.
package telemetry
