package personerr

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// TranslatePGError maps a constraint violation reported by Postgres onto
// this module's typed error taxonomy. Unrecognized constraints are returned
// wrapped in RepositoryError rather than leaked as a raw driver error,
// mirroring components/ledger/internal/app.ValidatePGError in the teacher.
func TranslatePGError(err error, entityType string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return RepositoryError{EntityType: entityType, Err: err}
	}

	switch pgErr.ConstraintName {
	case "country_iso2_key":
		return Duplicate{EntityType: entityType, Field: "iso2"}
	case "country_subdivision_country_id_code_key":
		return Duplicate{EntityType: entityType, Field: "code"}
	case "locality_country_subdivision_id_code_key":
		return Duplicate{EntityType: entityType, Field: "code"}
	case "entity_reference_person_id_entity_role_reference_external_id_key":
		return Duplicate{EntityType: entityType, Field: "(person_id, entity_role, reference_external_id)"}
	case "country_subdivision_country_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "country_id"}
	case "locality_country_subdivision_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "country_subdivision_id"}
	case "location_locality_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "locality_id"}
	case "person_organization_person_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "organization_person_id"}
	case "person_location_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "location_id"}
	case "person_duplicate_of_person_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "duplicate_of_person_id"}
	case "entity_reference_person_id_fkey":
		return ReferencedParentMissing{EntityType: entityType, Field: "person_id"}
	default:
		if pgErr.Code == "23505" {
			return Duplicate{EntityType: entityType, Field: pgErr.ConstraintName}
		}

		if pgErr.Code == "23503" {
			return ReferencedParentMissing{EntityType: entityType, Field: pgErr.ConstraintName}
		}

		return RepositoryError{EntityType: entityType, Err: pgErr}
	}
}

// WrapNotFound is a small helper so repositories don't need to import uuid
// just to build a NotFound error.
func WrapNotFound(entityType string, id uuid.UUID) error {
	return NotFound{EntityType: entityType, ID: id}
}
