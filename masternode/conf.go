// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// ConfEntry is one line of a masternode configuration file:
//
//	alias address privkey collateral-txid collateral-index
type ConfEntry struct {
	Alias      string
	Addr       string
	PrivKey    *secp256k1.PrivateKey
	Collateral wire.OutPoint
}

// ParsePrivKey parses a hex encoded 32-byte masternode private key.
func ParsePrivKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid masternode private key: %w", err)
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid masternode private key length %d",
			len(b))
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// ParseConf reads masternode configuration entries.  Blank lines and lines
// starting with '#' are skipped.
func ParseConf(r io.Reader) ([]ConfEntry, error) {
	var entries []ConfEntry
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: expected 5 fields, found %d",
				lineNum, len(fields))
		}
		if _, _, err := net.SplitHostPort(fields[1]); err != nil {
			return nil, fmt.Errorf("line %d: invalid address %q: %w",
				lineNum, fields[1], err)
		}
		priv, err := ParsePrivKey(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		hash, err := chainhash.NewHashFromStr(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid collateral hash: %w",
				lineNum, err)
		}
		index, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid collateral index: %w",
				lineNum, err)
		}
		entries = append(entries, ConfEntry{
			Alias:      fields[0],
			Addr:       fields[1],
			PrivKey:    priv,
			Collateral: wire.OutPoint{Hash: *hash, Index: uint32(index)},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// String returns the entry formatted as a masternode configuration line.
func (e *ConfEntry) String() string {
	return fmt.Sprintf("%s %s %x %v %d", e.Alias, e.Addr,
		e.PrivKey.Serialize(), e.Collateral.Hash, e.Collateral.Index)
}
