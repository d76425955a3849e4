// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package typewriter animates a growing text buffer at a bounded pace.
//
// The scheduler receives a monotonically-growing target string and
// exposes a displayed prefix that converges toward it, decoupling display
// rate from network arrival rate. A single background loop drives the
// reveal; it sleeps when caught up and is woken implicitly whenever the
// target grows, so an idle scheduler costs nothing.
//
// Growth never restarts the animation: the loop reads the latest target
// at each tick and resumes from the current position, which is what keeps
// the display from visibly jumping when chunks arrive mid-animation.
package typewriter
