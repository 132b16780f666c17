package models

import "time"

// TransactionLog is the durable audit record of every transaction the
// service submits (or fails to submit). Writes are fire-and-forget: a log
// failure never aborts the operation that produced it.
type TransactionLog struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ChainID         uint64 `gorm:"index;not null" json:"chain_id"`
	ContractAddress string `gorm:"index;not null" json:"contract_address"`
	Abi             string `gorm:"type:text" json:"abi,omitempty"`
	Data            string `gorm:"type:text" json:"data,omitempty"`
	TxHash          string `gorm:"index" json:"tx_hash,omitempty"`
	IsDeployTx      bool   `gorm:"default:false" json:"is_deploy_tx"`
	Args            JSON   `gorm:"type:text" json:"args,omitempty"`
	FunctionName    string `json:"function_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
