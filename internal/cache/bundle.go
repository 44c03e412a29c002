package cache

// Bundle groups one cache per cached entity (spec.md §3's seven entity
// repositories) behind a single handle, mirroring the way the teacher
// wires a bundle of repositories into one struct for a unit of work
// (components/ledger's Repo aggregate). A session commits or rolls back
// every cache in the bundle together via Promote/Discard.
type Bundle struct {
	Country            *CountryCache
	CountrySubdivision *CountrySubdivisionCache
	Locality           *LocalityCache
	Location           *LocationCache
	Messaging          *MessagingCache
	Person             *PersonCache
	EntityReference    *EntityReferenceCache
}

// NewBundle constructs an empty Bundle with all seven caches initialized.
// One Bundle is shared process-wide; sessions interact with it through
// per-session Tokens, never by constructing their own.
func NewBundle() *Bundle {
	return &Bundle{
		Country:            NewCountryCache(),
		CountrySubdivision: NewCountrySubdivisionCache(),
		Locality:           NewLocalityCache(),
		Location:           NewLocationCache(),
		Messaging:          NewMessagingCache(),
		Person:             NewPersonCache(),
		EntityReference:    NewEntityReferenceCache(),
	}
}

// Promote promotes tok's staged writes across every cache in the bundle.
// Each cache's Promote is a no-op if tok never staged anything there, so
// calling this unconditionally at commit time is safe and cheap.
func (b *Bundle) Promote(tok *Token) {
	b.Country.Promote(tok)
	b.CountrySubdivision.Promote(tok)
	b.Locality.Promote(tok)
	b.Location.Promote(tok)
	b.Messaging.Promote(tok)
	b.Person.Promote(tok)
	b.EntityReference.Promote(tok)
}

// Discard drops tok's staged writes across every cache in the bundle.
func (b *Bundle) Discard(tok *Token) {
	b.Country.Discard(tok)
	b.CountrySubdivision.Discard(tok)
	b.Locality.Discard(tok)
	b.Location.Discard(tok)
	b.Messaging.Discard(tok)
	b.Person.Discard(tok)
	b.EntityReference.Discard(tok)
}
