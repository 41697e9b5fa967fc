// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package memory provides in-process auth repositories for development and
// tests. Data does not survive a restart.
package memory
