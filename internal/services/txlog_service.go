package services

import (
	"github.com/0xsequence/sidekick-sub001/internal/models"
	"gorm.io/gorm"
)

// TransactionLogService is the durable audit log collaborator. Writes are
// fire-and-forget from the executor's point of view: a failed write is
// logged by the caller and never fails the surrounding operation.
type TransactionLogService interface {
	CreateTransaction(args CreateTransactionArgs) error
	ListTransactions(chainID uint64, contractAddress string, limit int) ([]models.TransactionLog, error)
}

type CreateTransactionArgs struct {
	ChainID         uint64
	ContractAddress string
	Abi             string
	Data            string
	TxHash          string
	IsDeployTx      bool
	Args            models.JSON
	FunctionName    string
}

type transactionLogService struct {
	db *gorm.DB
}

func NewTransactionLogService(db *gorm.DB) TransactionLogService {
	return &transactionLogService{db: db}
}

func (s *transactionLogService) CreateTransaction(args CreateTransactionArgs) error {
	record := &models.TransactionLog{
		ChainID:         args.ChainID,
		ContractAddress: args.ContractAddress,
		Abi:             args.Abi,
		Data:            args.Data,
		TxHash:          args.TxHash,
		IsDeployTx:      args.IsDeployTx,
		Args:            args.Args,
		FunctionName:    args.FunctionName,
	}
	return s.db.Create(record).Error
}

// ListTransactions returns audit records, newest first, optionally filtered
// by chain and contract.
func (s *transactionLogService) ListTransactions(chainID uint64, contractAddress string, limit int) ([]models.TransactionLog, error) {
	query := s.db.Model(&models.TransactionLog{}).Order("created_at DESC")
	if chainID != 0 {
		query = query.Where("chain_id = ?", chainID)
	}
	if contractAddress != "" {
		query = query.Where("contract_address = ?", contractAddress)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []models.TransactionLog
	err := query.Find(&logs).Error
	return logs, err
}
