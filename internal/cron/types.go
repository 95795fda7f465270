package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Payload actions.
const (
	ActionSnapshot = "snapshot"
	ActionReport   = "report"
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload says what a job does when it fires. Report jobs render Report
// ("leaderboard" or "topwords") for CommunityID and deliver it to Channel/To.
type Payload struct {
	Action      string `json:"action"`
	Report      string `json:"report,omitempty"`
	Scope       string `json:"scope,omitempty"`
	CommunityID string `json:"communityId,omitempty"`
	Channel     string `json:"channel,omitempty"`
	To          string `json:"to,omitempty"`
}

type State struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          State    `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
