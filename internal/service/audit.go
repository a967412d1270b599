package service

import (
	"context"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	var logs []domain.AuditLog
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireCapability(ctx, tx, domain.CapViewReports); err != nil {
			return err
		}
		var err error
		logs, err = tx.ListAuditLogs(ctx, filter)
		return err
	})
	return logs, err
}
