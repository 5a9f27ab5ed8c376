// Copyright (c) 2016-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// genmnkey generates a masternode private key.  When an address and collateral
// outpoint are given, a complete masternode configuration line is printed
// instead of the bare key.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/drkcore/darksend/masternode"
	flags "github.com/jessevdk/go-flags"
)

type options struct {
	Alias      string `long:"alias" default:"mn1" description:"Alias of the masternode configuration line"`
	Addr       string `long:"addr" description:"Address of the masternode, host:port"`
	Collateral string `long:"collateral" description:"Collateral outpoint of the masternode, txid:index"`
	PubKey     bool   `long:"pubkey" description:"Also print the serialized public key"`
}

func parseOutPoint(s string) (wire.OutPoint, error) {
	txid, index, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, errors.New("collateral must be txid:index")
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, err
	}
	n, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(n)}, nil
}

func run(opts *options) error {
	if (opts.Addr == "") != (opts.Collateral == "") {
		return errors.New("--addr and --collateral must be used together")
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}

	if opts.Addr == "" {
		fmt.Printf("%x\n", priv.Serialize())
	} else {
		op, err := parseOutPoint(opts.Collateral)
		if err != nil {
			return err
		}
		entry := masternode.ConfEntry{
			Alias:      opts.Alias,
			Addr:       opts.Addr,
			PrivKey:    priv,
			Collateral: op,
		}

		// Ensure the line is accepted by darksendd.
		_, err = masternode.ParseConf(strings.NewReader(entry.String()))
		if err != nil {
			return err
		}
		fmt.Println(entry.String())
	}
	if opts.PubKey {
		fmt.Printf("pubkey %x\n", priv.PubKey().SerializeCompressed())
	}
	return nil
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(&opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
