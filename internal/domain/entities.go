package domain

import (
	"time"

	"github.com/google/uuid"
)

// Field length limits from spec.md §3.
const (
	MaxISO2Len               = 2
	MaxCountryNameLen         = 100
	MaxSubdivisionCodeLen     = 10
	MaxSubdivisionNameLen     = 100
	MaxLocalityCodeLen        = 50
	MaxLocalityNameLen        = 50
	MaxStreetLineLen          = 50
	MaxPostalCodeLen          = 20
	MaxMessagingValueLen      = 100
	MaxMessagingOtherTypeLen  = 20
	MaxPersonDisplayNameLen   = 100
	MaxExternalIdentifierLen  = 50
	MaxDepartmentLen          = 50
	MaxEntityReferenceExtLen  = 50
	MaxEntityReferenceLineLen = 50

	// MaxOrganizationChainDepth bounds Person.OrganizationPersonID walks,
	// resolving spec.md §9 Open Question 3 via original_source's
	// acyclic-chain validation (banking-logic/tests/person organization
	// hierarchy tests walk a bounded number of hops before declaring a cycle).
	MaxOrganizationChainDepth = 32
)

// LocationType enumerates spec.md §3's seven location kinds.
type LocationType string

const (
	LocationResidential LocationType = "Residential"
	LocationBusiness    LocationType = "Business"
	LocationMailing     LocationType = "Mailing"
	LocationTemporary   LocationType = "Temporary"
	LocationBranch      LocationType = "Branch"
	LocationCommunity   LocationType = "Community"
	LocationOther       LocationType = "Other"
)

// MessagingType enumerates the 15 channels of spec.md §3, including Other.
type MessagingType string

const (
	MessagingEmail        MessagingType = "Email"
	MessagingPhone        MessagingType = "Phone"
	MessagingMobile       MessagingType = "Mobile"
	MessagingFax          MessagingType = "Fax"
	MessagingSMS          MessagingType = "SMS"
	MessagingWhatsApp     MessagingType = "WhatsApp"
	MessagingTelegram     MessagingType = "Telegram"
	MessagingSkype        MessagingType = "Skype"
	MessagingWeChat       MessagingType = "WeChat"
	MessagingViber        MessagingType = "Viber"
	MessagingLine         MessagingType = "Line"
	MessagingTwitter      MessagingType = "Twitter"
	MessagingLinkedIn     MessagingType = "LinkedIn"
	MessagingWebsite      MessagingType = "Website"
	MessagingOther        MessagingType = "Other"
)

// PersonType enumerates spec.md §3's five person kinds.
type PersonType string

const (
	PersonNatural     PersonType = "Natural"
	PersonLegal       PersonType = "Legal"
	PersonSystem      PersonType = "System"
	PersonIntegration PersonType = "Integration"
	PersonUnknown     PersonType = "Unknown"
)

// EntityRole enumerates the 12-variant role enum of spec.md §3.
type EntityRole string

const (
	RoleCustomer          EntityRole = "Customer"
	RoleEmployee          EntityRole = "Employee"
	RoleShareholder       EntityRole = "Shareholder"
	RoleDirector          EntityRole = "Director"
	RoleBeneficialOwner   EntityRole = "BeneficialOwner"
	RoleAgent             EntityRole = "Agent"
	RoleVendor            EntityRole = "Vendor"
	RolePartner           EntityRole = "Partner"
	RoleRegulatoryContact EntityRole = "RegulatoryContact"
	RoleEmergencyContact  EntityRole = "EmergencyContact"
	RoleSystemAdmin       EntityRole = "SystemAdmin"
	RoleOther             EntityRole = "Other"
)

// Country is spec.md §3's Country entity: runtime-immutable in practice,
// with a "fix" path reserved for correction only (SPEC_FULL.md §C).
type Country struct {
	ID     uuid.UUID
	ISO2   BoundedString // at most MaxISO2Len runes; an exact length of two is not checked
	NameL1 BoundedString
	NameL2 *BoundedString
	NameL3 *BoundedString
}

// CountryIndex is Country's compact index record (spec.md §3, "Index record").
type CountryIndex struct {
	ID       uuid.UUID
	ISO2     string // stored directly: short enough not to need hashing
	Version  int64
	Hash     uint64
	IsActive bool
}

// CountrySubdivision is spec.md §3's CountrySubdivision entity.
type CountrySubdivision struct {
	ID        uuid.UUID
	CountryID uuid.UUID
	Code      BoundedString
	NameL1    BoundedString
	NameL2    *BoundedString
	NameL3    *BoundedString
}

// CountrySubdivisionIndex is CountrySubdivision's index record.
type CountrySubdivisionIndex struct {
	ID        uuid.UUID
	CountryID uuid.UUID
	CodeHash  uint64
	Version   int64
	Hash      uint64
}

// Locality is spec.md §3's Locality entity.
type Locality struct {
	ID                   uuid.UUID
	CountrySubdivisionID uuid.UUID
	Code                 BoundedString
	NameL1               BoundedString
	NameL2               *BoundedString
	NameL3               *BoundedString
}

// LocalityIndex is Locality's index record.
type LocalityIndex struct {
	ID                   uuid.UUID
	CountrySubdivisionID uuid.UUID
	CodeHash             uint64
	Version              int64
	Hash                 uint64
}

// Location is spec.md §3's Location entity: conceptually immutable, a
// correction re-writes the same id rather than creating a new row.
type Location struct {
	ID              uuid.UUID
	StreetLine1     BoundedString
	StreetLine2     *BoundedString
	StreetLine3     *BoundedString
	StreetLine4     *BoundedString
	LocalityID      uuid.UUID
	PostalCode      *BoundedString
	Latitude        *float64
	Longitude       *float64
	AccuracyMeters  *float64
	LocationType    LocationType
}

// LocationIndex is Location's index record.
type LocationIndex struct {
	ID         uuid.UUID
	LocalityID uuid.UUID
	Version    int64
	Hash       uint64
}

// Messaging is spec.md §3's Messaging entity.
type Messaging struct {
	ID            uuid.UUID
	MessagingType MessagingType
	Value         BoundedString
	OtherType     *BoundedString // required iff MessagingType == MessagingOther
}

// MessagingIndex is Messaging's index record.
type MessagingIndex struct {
	ID        uuid.UUID
	ValueHash uint64
	Version   int64
	Hash      uint64
}

// MessagingSlot is one of Person's up-to-five (messaging_id, messaging_type)
// pairs (spec.md §3).
type MessagingSlot struct {
	MessagingID   uuid.UUID
	MessagingType MessagingType
}

// MaxPersonMessagingSlots bounds Person.MessagingSlots.
const MaxPersonMessagingSlots = 5

// Person is spec.md §3's Person entity. Mutable.
type Person struct {
	ID                   uuid.UUID
	PersonType           PersonType
	DisplayName          BoundedString
	ExternalIdentifier   *BoundedString
	EntityReferenceCount int64 // caller-maintained per SPEC_FULL.md §C Open Question 2
	OrganizationPersonID *uuid.UUID
	MessagingSlots       []MessagingSlot
	Department           *BoundedString
	LocationID           *uuid.UUID
	DuplicateOfPersonID  *uuid.UUID
}

// PersonIndex is Person's index record.
type PersonIndex struct {
	ID                     uuid.UUID
	ExternalIdentifierHash *uint64
	OrganizationPersonID   *uuid.UUID
	Version                int64
	Hash                   uint64
}

// EntityReference is spec.md §3's EntityReference entity.
type EntityReference struct {
	ID                  uuid.UUID
	PersonID            uuid.UUID
	EntityRole          EntityRole
	ReferenceExternalID  BoundedString
	DetailLine1         *BoundedString
	DetailLine2         *BoundedString
	DetailLine3         *BoundedString
}

// EntityReferenceIndex is EntityReference's index record.
type EntityReferenceIndex struct {
	ID                       uuid.UUID
	PersonID                 uuid.UUID
	EntityRole               EntityRole
	ReferenceExternalIDHash  uint64
	Version                  int64
	Hash                     uint64
}

// AuditLog is spec.md §3's AuditLog entity: immutable once written, and
// referenced by exactly one id from every mutating operation within a
// unit of work (possibly shared across several entity changes).
type AuditLog struct {
	ID                uuid.UUID
	UpdatedAt         time.Time
	UpdatedByPersonID uuid.UUID
}

// AuditRecord is the append-only per-version history row spec.md §3
// describes for every cached entity ("Audit record").
type AuditRecord struct {
	PrimaryID  uuid.UUID
	Version    int64
	Hash       uint64
	Payload    []byte
	AuditLogID uuid.UUID
}
