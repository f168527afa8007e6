package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdCheckAll     CommandType = "check_all"
	CmdCheckProduct CommandType = "check_product"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
)

// Command is a manual trigger queued by another process for the daemon.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ProductID string `json:"product_id,omitempty"`
}
