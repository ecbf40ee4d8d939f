// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpu carries the one ARM64 feature flag internal/atomic's
// compare-and-swap path cares about. There is no runtime detection on bare
// metal; HasATOMICS stays false so every CAS takes the LDAXR/STLXR
// exclusive-access sequence rather than the ARMv8.1 LSE instructions,
// which not every core this kernel targets implements.
package cpu

var ARM64 struct {
	_          CacheLinePad
	HasATOMICS bool
	_          CacheLinePad
}

// CacheLinePad pads a struct field to keep it off a cache line shared with
// neighbors, avoiding false sharing across cores.
type CacheLinePad struct{ _ [64]byte }

func init() {
	ARM64.HasATOMICS = false
}
