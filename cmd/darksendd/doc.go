// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
darksendd runs masternodes and wallets on a simulated network to exercise
coin mixing and instant transaction locks.

Wallets denominate their funds, mix them through sessions coordinated by the
masternodes until the anonymize amount completed the configured number of
rounds, and then pay the next wallet with a transaction locked by a quorum of
masternodes before it is published.  The lock database in the data directory
keeps complete locks and the mixing rounds of the local wallet.

The long form of every option (except -C) can also be specified in a
configuration file, by default ~/.darksendd/darksendd.conf on POSIX-style
operating systems and %LOCALAPPDATA%\Darksendd\darksendd.conf on Windows.

Usage:

	darksendd [OPTIONS]

Application Options:

	-V, --version              Display version information and exit
	-A, --appdata=             Path to application home directory
	-C, --configfile=          Path to configuration file
	-b, --datadir=             Directory to store data
	    --logdir=              Directory to log output
	    --nofilelogging        Disable file logging
	    --logsize=             Maximum size of log file before it is rotated
	                           (default: 10M)
	    --maxlogfiles=         Maximum number of rotated log files to keep
	                           (default: 3)
	-d, --debuglevel=          Logging level for all subsystems {trace, debug,
	                           info, warn, error, critical} -- You may also
	                           specify <subsystem>=<level>,... to set the log
	                           level for individual subsystems -- Use show to
	                           list available subsystems (default: info)
	    --metricslisten=       Serve prometheus metrics on the given address
	                           or port
	    --nodarksend           Disable mixing of wallet funds
	    --darksendrounds=      Number of mixing rounds an output must complete
	                           to be anonymized (2-16) (default: 2)
	    --privacy=             Mixing rounds preset overriding darksendrounds
	                           {basic, high, maximum}
	    --anonymizeamount=     Amount of DRK to keep anonymized (default: 1000)
	    --liquidity=           Keep mixing after the anonymize amount is
	                           reached, from 0 (disabled) to 100 (most active)
	    --maxattempts=         Failed mixing rounds tolerated before giving up
	                           (default: 10)
	    --spendzeroconfchange  Spend unconfirmed change when sending
	    --noinstantx           Disable instant transaction locks
	    --lockconfirmations=   Confirmations displayed for locked transactions
	                           that have fewer (default: 5)
	    --masternode           Run a masternode
	    --masternodeconf=      Path to a masternode configuration file listing
	                           remote masternodes
	    --masternodeprivkey=   Hex encoded private key of the masternode
	    --minmasternodeproto=  Minimum protocol version of masternodes to use
	                           (default: 1)
	    --simparticipants=     Number of simulated wallets (default: 3)
	    --simmasternodes=      Number of simulated masternodes (default: 4)
	    --simfunds=            DRK funded to every simulated wallet
	                           (default: 150)
	    --phasetimeout=        Deadline of each mixing session phase
	                           (default: 30s)

Help Options:

	-h, --help                 Show this help message
*/
package main
