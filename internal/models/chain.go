package models

import (
	"time"

	"gorm.io/gorm"
)

// Chain represents an EVM network the service can submit transactions to.
// ChainID is the network's numeric chain ID (e.g. 1 for Ethereum mainnet).
type Chain struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ChainID   uint64         `gorm:"column:chain_id;uniqueIndex;not null" json:"chain_id"`
	Name      string         `gorm:"not null" json:"name"`
	RPC       string         `gorm:"not null" json:"rpc"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
