// SPDX-License-Identifier: MIT
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gauges
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lowroll_rooms_active",
		Help: "Number of rooms currently registered",
	})

	participantsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lowroll_participants_active",
		Help: "Number of participants attached to any session",
	})

	streamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lowroll_stream_subscribers",
		Help: "Number of open stream subscriptions",
	})

	// Counters
	turnTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lowroll_turn_timeouts_total",
		Help: "Total turn deadline expiries that triggered an auto-advance",
	})

	botAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lowroll_bot_advances_total",
		Help: "Total turn actions taken by bot policies",
	})

	joinFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lowroll_join_failures_total",
		Help: "Room join rejections by reason",
	}, []string{"reason"}) // reason=full|banned|closed|not_found

	moderationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lowroll_moderation_actions_total",
		Help: "Moderation actions by kind",
	}, []string{"action"}) // action=warn|mute|ban|kick|block

	storeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lowroll_store_retries_total",
		Help: "Transient store failures that were retried",
	})

	streamBackpressureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lowroll_stream_backpressure_total",
		Help: "Stream subscribers disconnected for slow consumption",
	})

	// Mirror counters for the admin metrics endpoint. Prometheus counters
	// cannot be read back cheaply, so the admin snapshot tracks its own.
	snap snapshot
)

type snapshot struct {
	rooms         atomic.Int64
	participants  atomic.Int64
	subscribers   atomic.Int64
	turnTimeouts  atomic.Int64
	botAdvances   atomic.Int64
	joinFailures  atomic.Int64
	modActions    atomic.Int64
	storeRetries  atomic.Int64
	backpressured atomic.Int64
}

// Snapshot is the point-in-time view served by the admin metrics endpoint.
type Snapshot struct {
	RoomsActive        int64 `json:"roomsActive"`
	ParticipantsActive int64 `json:"participantsActive"`
	StreamSubscribers  int64 `json:"streamSubscribers"`
	TurnTimeouts       int64 `json:"turnTimeouts"`
	BotAdvances        int64 `json:"botAdvances"`
	JoinFailures       int64 `json:"joinFailures"`
	ModerationActions  int64 `json:"moderationActions"`
	StoreRetries       int64 `json:"storeRetries"`
	Backpressured      int64 `json:"streamBackpressure"`
}

// Current returns the admin metrics snapshot.
func Current() Snapshot {
	return Snapshot{
		RoomsActive:        snap.rooms.Load(),
		ParticipantsActive: snap.participants.Load(),
		StreamSubscribers:  snap.subscribers.Load(),
		TurnTimeouts:       snap.turnTimeouts.Load(),
		BotAdvances:        snap.botAdvances.Load(),
		JoinFailures:       snap.joinFailures.Load(),
		ModerationActions:  snap.modActions.Load(),
		StoreRetries:       snap.storeRetries.Load(),
		Backpressured:      snap.backpressured.Load(),
	}
}

func SetRoomsActive(n int) {
	roomsActive.Set(float64(n))
	snap.rooms.Store(int64(n))
}

func SetParticipantsActive(n int) {
	participantsActive.Set(float64(n))
	snap.participants.Store(int64(n))
}

func SetStreamSubscribers(n int) {
	streamSubscribers.Set(float64(n))
	snap.subscribers.Store(int64(n))
}

func IncTurnTimeout() {
	turnTimeoutsTotal.Inc()
	snap.turnTimeouts.Add(1)
}

func IncBotAdvance() {
	botAdvancesTotal.Inc()
	snap.botAdvances.Add(1)
}

func IncJoinFailure(reason string) {
	joinFailuresTotal.WithLabelValues(reason).Inc()
	snap.joinFailures.Add(1)
}

func IncModerationAction(action string) {
	moderationActionsTotal.WithLabelValues(action).Inc()
	snap.modActions.Add(1)
}

func IncStoreRetry() {
	storeRetriesTotal.Inc()
	snap.storeRetries.Add(1)
}

func IncStreamBackpressure() {
	streamBackpressureTotal.Inc()
	snap.backpressured.Add(1)
}
