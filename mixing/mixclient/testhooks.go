// Copyright (c) 2024-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mixclient

type hook string

// hookFunc may modify the message about to be sent.  Returning false drops
// the message.
type hookFunc func(*Client, *round, interface{}) bool

const (
	hookBeforeContribute hook = "before contribute"
	hookBeforeSign       hook = "before sign"
)
