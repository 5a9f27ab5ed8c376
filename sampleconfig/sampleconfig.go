// Copyright (c) 2017-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

import (
	_ "embed"
)

// sampleDarksenddConf is a string containing the commented example config for
// darksendd.
//
//go:embed sample-darksendd.conf
var sampleDarksenddConf string

// Darksendd returns a string containing the commented example config for
// darksendd.
func Darksendd() string {
	return sampleDarksenddConf
}
