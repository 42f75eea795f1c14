// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dialog owns the lifecycle of streaming question requests.
//
// The Controller is the single owner of all conversational client state:
// which context is selected, which contexts have a request in flight, the
// visible transcript, and the durable reconnect record. Each context moves
// through idle -> pending (no token) -> pending (streaming) -> idle, with
// errors absorbing back to idle from any pending state. At most one
// request may be pending per context; duplicate submissions are rejected,
// not queued.
//
// All mutation is serialized behind one mutex. Stream events arrive on a
// per-request goroutine and funnel through Controller methods, so handlers
// for one request run strictly in transport order. Observers are notified
// outside the lock and must not call back into the Controller from the
// notification itself.
package dialog
