// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/drkcore/darksend/sampleconfig"
	flags "github.com/jessevdk/go-flags"
)

const testPrivKey = "1111111111111111111111111111111111111111111111111111111111111111"

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *config)
		rounds  int
		anon    dcrutil.Amount
		wantErr bool
	}{{
		name:   "defaults",
		modify: func(c *config) {},
		rounds: 2,
		anon:   1000e8,
	}, {
		name:   "explicit rounds",
		modify: func(c *config) { c.DarksendRounds = 5 },
		rounds: 5,
		anon:   1000e8,
	}, {
		name: "privacy preset overrides rounds",
		modify: func(c *config) {
			c.DarksendRounds = 5
			c.Privacy = "High"
		},
		rounds: 8,
		anon:   1000e8,
	}, {
		name:   "maximum privacy",
		modify: func(c *config) { c.Privacy = "maximum" },
		rounds: 16,
		anon:   1000e8,
	}, {
		name:    "unknown privacy preset",
		modify:  func(c *config) { c.Privacy = "extreme" },
		wantErr: true,
	}, {
		name:    "too few rounds",
		modify:  func(c *config) { c.DarksendRounds = 1 },
		wantErr: true,
	}, {
		name:    "too many rounds",
		modify:  func(c *config) { c.DarksendRounds = 17 },
		wantErr: true,
	}, {
		name:    "liquidity out of range",
		modify:  func(c *config) { c.Liquidity = 101 },
		wantErr: true,
	}, {
		name:   "fractional anonymize amount",
		modify: func(c *config) { c.AnonymizeAmount = 12.5 },
		rounds: 2,
		anon:   12.5e8,
	}, {
		name:    "zero anonymize amount",
		modify:  func(c *config) { c.AnonymizeAmount = 0 },
		wantErr: true,
	}, {
		name:    "zero lock confirmations",
		modify:  func(c *config) { c.LockConfirmations = 0 },
		wantErr: true,
	}, {
		name:    "masternode without key",
		modify:  func(c *config) { c.Masternode = true },
		wantErr: true,
	}, {
		name:    "key without masternode",
		modify:  func(c *config) { c.MasternodePrivKey = testPrivKey },
		wantErr: true,
	}, {
		name: "masternode",
		modify: func(c *config) {
			c.Masternode = true
			c.MasternodePrivKey = testPrivKey
		},
		rounds: 2,
		anon:   1000e8,
	}, {
		name:    "bad masternode key",
		modify:  func(c *config) { c.Masternode, c.MasternodePrivKey = true, "abcd" },
		wantErr: true,
	}, {
		name:    "metrics port too low",
		modify:  func(c *config) { c.MetricsListen = "80" },
		wantErr: true,
	}, {
		name:    "bad log size",
		modify:  func(c *config) { c.LogSize = "big" },
		wantErr: true,
	}}

	for _, test := range tests {
		c := defaultConfig()
		test.modify(&c)
		err := c.validate()
		if test.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error", test.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if c.rounds != test.rounds {
			t.Errorf("%s: rounds %d, want %d", test.name, c.rounds, test.rounds)
		}
		if c.anonymizeAmount != test.anon {
			t.Errorf("%s: anonymize amount %v, want %v", test.name,
				c.anonymizeAmount, test.anon)
		}
	}
}

func TestMetricsListenDefaultsToLocalhost(t *testing.T) {
	c := defaultConfig()
	c.MetricsListen = "9200"
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if c.MetricsListen != "127.0.0.1:9200" {
		t.Fatalf("metrics listen address %q", c.MetricsListen)
	}
}

func TestMasternodeConfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "masternode.conf")
	conf := "# alias address privkey txid index\n" +
		"mn1 127.0.0.1:9999 " + testPrivKey + " " + strings.Repeat("ab", 32) + " 1\n"
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}

	c := defaultConfig()
	c.MasternodeConf = path
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if len(c.mnConf) != 1 || c.mnConf[0].Alias != "mn1" || c.mnConf[0].Collateral.Index != 1 {
		t.Fatalf("unexpected masternode entries %+v", c.mnConf)
	}

	c = defaultConfig()
	c.MasternodeConf = filepath.Join(t.TempDir(), "missing.conf")
	if err := c.validate(); err == nil {
		t.Fatal("missing masternode conf accepted")
	}
}

// TestSampleConfig ensures the sample config parses and leaves every default
// untouched since all of its options are commented out.
func TestSampleConfig(t *testing.T) {
	cfg := defaultConfig()
	parser := newConfigParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).Parse(strings.NewReader(sampleconfig.Darksendd()))
	if err != nil {
		t.Fatalf("failed to parse sample config: %v", err)
	}
	if !reflect.DeepEqual(cfg, defaultConfig()) {
		t.Fatalf("sample config changed defaults: %+v", cfg)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", defaultConfigFilename)
	if err := createDefaultConfigFile(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != sampleconfig.Darksendd() {
		t.Fatal("created config does not match the sample")
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte("debuglevel=trace\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := createDefaultConfigFile(path); err != nil {
		t.Fatal(err)
	}
	b, _ = os.ReadFile(path)
	if string(b) != "debuglevel=trace\n" {
		t.Fatal("existing config overwritten")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "512", want: 512},
		{in: "512K", want: 512},
		{in: "10M", want: 10 << 10},
		{in: "2g", want: 2 << 20},
		{in: "0", wantErr: true},
		{in: "M", wantErr: true},
	}
	for _, test := range tests {
		got, err := parseSize(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("%q: unexpected error %v", test.in, err)
			continue
		}
		if got != test.want {
			t.Errorf("%q: got %d, want %d", test.in, got, test.want)
		}
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "debug"},
		{in: "MIXP=trace,IXLK=warn"},
		{in: "loud", wantErr: true},
		{in: "MIXP", wantErr: true},
		{in: "NOPE=info", wantErr: true},
		{in: "MIXP=loud", wantErr: true},
		{in: "MIXP=info,COIN", wantErr: true},
	}
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("%q: got error %v, want error %v", test.in, err,
				test.wantErr)
		}
	}
	setLogLevels("off")
}
