// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

/*
Package supervisor implements the monitor supervisor (spec §4.6) using
suture v4: a flat supervision tree holding one monitor coordinator per
validated monitor record.

# Overview

	RootSupervisor ("argos")
	├── Coordinator(m1)
	├── Coordinator(m2)
	└── Coordinator(mN)

This collapses the teacher's fixed three-layer tree (data/messaging/api)
into a single layer, because Argos has no database or HTTP-API services
to isolate from one another — every child here is the same kind of
thing, a monitor coordinator, and a transient failure in one must never
affect its siblings (spec §4.6 "one-for-one restart policy").

# Key Features

Automatic Restart:
  - A coordinator that fails transiently is restarted by suture.
  - A coordinator that terminates normally after exhausting its retry
    policy returns suture.ErrDoNotRestart and is not restarted (spec
    §4.6: "a coordinator that terminates normally after exhausting
    retries is not restarted").

Failure Isolation:
  - Each coordinator owns exactly one monitor's worker and retry_count;
    no state crosses a coordinator boundary except through the shared
    subscriber registry.

Graceful Shutdown:
  - Context cancellation propagates to every coordinator, which in turn
    commands its worker to shut down (spec §5 "Cancellation").
  - Coordinators are commanded to stop in parallel and each bounded by
    TreeConfig.ShutdownTimeout (spec §5, default 5000ms).

# Usage

	doc := configdoc.RawDocument{...} // decoded from the JSON monitor document
	tree, err := supervisor.NewTree(doc, supervisor.DefaultTreeConfig())
	if err != nil {
	    // aggregated validation reasons; no monitor was started
	}

	ctx, cancel := context.WithCancel(context.Background())
	go tree.Serve(ctx)
	// ...
	cancel() // shuts every coordinator down

# Discovery

NewTree builds its protocol-tag -> field-schema table by calling
worker.Schemas(), which enumerates every protocol worker package that
has registered itself via an init() call to worker.Register (spec §4.6
"Discovery"). Adding a new transport never touches this package.
*/
package supervisor
