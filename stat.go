// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import (
	"time"

	statshouse "github.com/VKCOM/statshouse-go"
)

// StatsOptions tag the session's duration metrics. An empty Service
// disables emission entirely.
type StatsOptions struct {
	Service string
	Cluster string
	DC      string
}

const (
	queryDurationMetric  = "sessionlite_query_duration"
	waitDurationMetric   = "sessionlite_wait_duration"
	actionDurationMetric = "sessionlite_action_duration"
	backupPagesMetric    = "sessionlite_backup_pages"

	query = "query"
	exec  = "exec"

	waitPool = "wait_pool_acquire"
	waitConn = "wait_conn_lock"
)

func (s *StatsOptions) checkEmpty() bool {
	return s.Service == ""
}

func (s *StatsOptions) measureQueryDurationSince(typ, name string, start time.Time) {
	if s.checkEmpty() {
		return
	}
	statshouse.Metric(queryDurationMetric, statshouse.Tags{1: s.Service, 2: s.Cluster, 3: s.DC, 4: typ, 5: name}).Value(time.Since(start).Seconds())
}

func (s *StatsOptions) measureWaitDurationSince(typ string, start time.Time) {
	if s.checkEmpty() {
		return
	}
	statshouse.Metric(waitDurationMetric, statshouse.Tags{1: s.Service, 2: s.Cluster, 3: s.DC, 4: typ}).Value(time.Since(start).Seconds())
}

func (s *StatsOptions) measureActionDurationSince(typ string, start time.Time) {
	if s.checkEmpty() {
		return
	}
	statshouse.Metric(actionDurationMetric, statshouse.Tags{1: s.Service, 2: s.Cluster, 3: s.DC, 4: typ}).Value(time.Since(start).Seconds())
}

func (s *StatsOptions) backupPagesCopied(n int) {
	if s.checkEmpty() {
		return
	}
	statshouse.Metric(backupPagesMetric, statshouse.Tags{1: s.Service, 2: s.Cluster, 3: s.DC}).Count(float64(n))
}
