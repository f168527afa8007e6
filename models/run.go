package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerCommand   RunTrigger = "command"
)

// CheckRun is the bookkeeping record of one sweep.
type CheckRun struct {
	ID              int64      `json:"id" db:"id"`
	Trigger         RunTrigger `json:"trigger" db:"trigger"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	ProductsChecked int        `json:"products_checked" db:"products_checked"`
	ProductsFailed  int        `json:"products_failed" db:"products_failed"`
	AlertsCreated   int        `json:"alerts_created" db:"alerts_created"`
}
