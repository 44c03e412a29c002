// Package auditlog implements spec.md §4.5's AuditLog repository: an
// append-only root table every other entity's `_audit` rows reference by
// id. No cache, no secondary index — just insert and find_by_id.
package auditlog

import (
	"context"
	"database/sql"
	"errors"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

const entityType = "AuditLog"

// Repository is the AuditLog repository (spec.md §4.5).
type Repository struct {
	exec   *dbexec.Executor
	logger log.Logger
}

// New constructs a Repository.
func New(exec *dbexec.Executor, logger log.Logger) *Repository {
	return &Repository{exec: exec, logger: logger}
}

// Create inserts audit_log and returns the stored record.
func (r *Repository) Create(ctx context.Context, a domain.AuditLog) (domain.AuditLog, error) {
	query, args, err := sqrl.Insert("audit_log").
		Columns("id", "updated_at", "updated_by_person_id").
		Values(a.ID, a.UpdatedAt, a.UpdatedByPersonID).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.AuditLog{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, query, args...); err != nil {
		return domain.AuditLog{}, personerr.TranslatePGError(err, entityType)
	}

	return a, nil
}

// FindByID retrieves a stored audit_log row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (domain.AuditLog, error) {
	query, args, err := sqrl.Select("id", "updated_at", "updated_by_person_id").
		From("audit_log").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.AuditLog{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var a domain.AuditLog

	if err := row.Scan(&a.ID, &a.UpdatedAt, &a.UpdatedByPersonID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuditLog{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.AuditLog{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	return a, nil
}

// UpdateBatch is explicitly disallowed: audit logs are immutable
// (spec.md §4.5).
func (r *Repository) UpdateBatch(context.Context, []domain.AuditLog) error {
	return personerr.AuditLogImmutable{}
}

// DeleteBatch is explicitly disallowed for the same reason.
func (r *Repository) DeleteBatch(context.Context, []uuid.UUID) error {
	return personerr.AuditLogImmutable{}
}
