package personstore

import (
	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/repository/auditlog"
	"github.com/LerianStudio/person-data-store/internal/repository/country"
	"github.com/LerianStudio/person-data-store/internal/repository/countrysubdivision"
	"github.com/LerianStudio/person-data-store/internal/repository/entityreference"
	"github.com/LerianStudio/person-data-store/internal/repository/locality"
	"github.com/LerianStudio/person-data-store/internal/repository/location"
	"github.com/LerianStudio/person-data-store/internal/repository/messaging"
	"github.com/LerianStudio/person-data-store/internal/repository/person"
)

// Repositories groups the grouped accessors spec.md §6's consumer-facing
// contract names: persons(), countries(), country_subdivisions(),
// localities(), locations(), messagings(), entity_references(), plus the
// audit-log repository every mutation references. One Repositories is
// built fresh per Store (pool mode) and per UnitOfWork (session mode),
// over the same *cache.Bundle but a different Executor/Token pair.
type Repositories struct {
	Countries           *country.Repository
	CountrySubdivisions *countrysubdivision.Repository
	Localities          *locality.Repository
	Locations           *location.Repository
	Messagings          *messaging.Repository
	Persons             *person.Repository
	EntityReferences    *entityreference.Repository
	AuditLogs           *auditlog.Repository
}

// newRepositories wires one Repositories instance over exec/tok/bundle.
// tok is nil for pool mode, a session's token in transaction mode.
func newRepositories(exec *dbexec.Executor, bundle *cache.Bundle, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repositories {
	return &Repositories{
		Countries:           country.New(exec, bundle.Country, tok, cacheSeed, logger),
		CountrySubdivisions: countrysubdivision.New(exec, bundle.CountrySubdivision, bundle.Locality, tok, cacheSeed, logger),
		Localities:          locality.New(exec, bundle.Locality, bundle.Location, tok, cacheSeed, logger),
		Locations:           location.New(exec, bundle.Location, tok, cacheSeed, logger),
		Messagings:          messaging.New(exec, bundle.Messaging, tok, cacheSeed, logger),
		Persons:             person.New(exec, bundle.Person, tok, cacheSeed, logger),
		EntityReferences:    entityreference.New(exec, bundle.EntityReference, bundle.Person, tok, cacheSeed, logger),
		AuditLogs:           auditlog.New(exec, logger),
	}
}
