package services

import (
	"errors"

	"github.com/0xsequence/sidekick-sub001/internal/models"
	"gorm.io/gorm"
)

// ChainService handles chain-related operations
type ChainService interface {
	CreateChain(chain *models.Chain) error
	GetChainByChainID(chainID uint64) (*models.Chain, error)
	UpdateChainRPC(chainID uint64, rpc string) error
	DeleteChain(chainID uint64) error
	ListChains() ([]models.Chain, error)
}

type chainService struct {
	db *gorm.DB
}

// NewChainService creates a new ChainService
func NewChainService(db *gorm.DB) ChainService {
	return &chainService{db: db}
}

// CreateChain creates a new chain
func (s *chainService) CreateChain(chain *models.Chain) error {
	return s.db.Create(chain).Error
}

// GetChainByChainID returns the chain registered under the given network ID
func (s *chainService) GetChainByChainID(chainID uint64) (*models.Chain, error) {
	var chain models.Chain
	err := s.db.Where("chain_id = ?", chainID).First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChainNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// UpdateChainRPC updates the RPC endpoint for a chain
func (s *chainService) UpdateChainRPC(chainID uint64, rpc string) error {
	res := s.db.Model(&models.Chain{}).Where("chain_id = ?", chainID).Update("rpc", rpc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChainNotFound
	}
	return nil
}

// DeleteChain removes a chain registration
func (s *chainService) DeleteChain(chainID uint64) error {
	res := s.db.Where("chain_id = ?", chainID).Delete(&models.Chain{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChainNotFound
	}
	return nil
}

// ListChains returns all chains
func (s *chainService) ListChains() ([]models.Chain, error) {
	var chains []models.Chain
	err := s.db.Find(&chains).Error
	return chains, err
}
