// Copyright (c) 2020-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package progresslog provides periodic logging for mixing session processing.

Tests are included to ensure proper functionality.

## Feature Overview

- Maintains cumulative totals about sessions between each logging interval
  - Total number of finished sessions
  - Total number of failed sessions
  - Total number of participants
  - Total number of mixed inputs
  - Total amount mixed
- Logs all cumulative data every 10 seconds
- Immediately logs any outstanding data when forced
*/
package progresslog
